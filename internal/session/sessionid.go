// Package session tracks live login sessions in memory and rebuilds that
// state from the durable activity log.
package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const sessionIDPrefix = "session_"

// ErrInvalidSessionID reports a string that does not parse as a session ID
var ErrInvalidSessionID = errors.New("invalid session id")

// SessionID derives the identifier for a login session from the user and
// the login instant. The same inputs always produce the same identifier,
// which is what lets reconciliation match log entries to sessions.
func SessionID(userID string, loginAt time.Time) string {
	return fmt.Sprintf("%s%s_%d", sessionIDPrefix, userID, loginAt.UnixMilli())
}

// ParseSessionID splits a session identifier back into its user ID and
// login instant. The user ID may itself contain underscores, so the
// timestamp is taken from the final segment.
func ParseSessionID(id string) (string, time.Time, error) {
	if !strings.HasPrefix(id, sessionIDPrefix) {
		return "", time.Time{}, ErrInvalidSessionID
	}

	rest := id[len(sessionIDPrefix):]
	sep := strings.LastIndex(rest, "_")
	if sep <= 0 || sep == len(rest)-1 {
		return "", time.Time{}, ErrInvalidSessionID
	}

	userID := rest[:sep]
	millis, err := strconv.ParseInt(rest[sep+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, ErrInvalidSessionID
	}

	return userID, time.UnixMilli(millis), nil
}
