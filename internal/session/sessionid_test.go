package session

import (
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestSessionIDRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		userID := rapid.StringMatching(`[a-zA-Z0-9_-]{1,40}`).Draw(t, "userID")
		millis := rapid.Int64Range(0, 4102444800000).Draw(t, "millis")
		loginAt := time.UnixMilli(millis)

		id := SessionID(userID, loginAt)

		gotUser, gotAt, err := ParseSessionID(id)
		if err != nil {
			t.Fatalf("generated ID %q failed to parse: %v", id, err)
		}
		if gotUser != userID {
			t.Errorf("user ID round-trip: got %q, want %q", gotUser, userID)
		}
		if gotAt.UnixMilli() != millis {
			t.Errorf("login time round-trip: got %d, want %d", gotAt.UnixMilli(), millis)
		}
	})
}

func TestSessionIDDeterministic(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	a := SessionID("user-1", at)
	b := SessionID("user-1", at)
	if a != b {
		t.Errorf("same inputs produced %q and %q", a, b)
	}
	if c := SessionID("user-2", at); c == a {
		t.Error("different users produced the same ID")
	}
	if d := SessionID("user-1", at.Add(time.Millisecond)); d == a {
		t.Error("different instants produced the same ID")
	}
}

func TestSessionIDUserWithUnderscores(t *testing.T) {
	// User IDs may contain underscores; the timestamp is always the
	// final segment.
	at := time.UnixMilli(1700000000000)
	id := SessionID("admin_system_user", at)
	gotUser, gotAt, err := ParseSessionID(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUser != "admin_system_user" {
		t.Errorf("got user %q", gotUser)
	}
	if !gotAt.Equal(at) {
		t.Errorf("got time %v, want %v", gotAt, at)
	}
}

func TestParseSessionIDRejectsMalformedInput(t *testing.T) {
	cases := []string{
		"",
		"session_",
		"session_user",
		"session_user_",
		"session__1700000000000",
		"session_user_notanumber",
		"sess_user_1700000000000",
		"user_1700000000000",
	}
	for _, input := range cases {
		if _, _, err := ParseSessionID(input); !errors.Is(err, ErrInvalidSessionID) {
			t.Errorf("ParseSessionID(%q): expected ErrInvalidSessionID, got %v", input, err)
		}
	}
}
