package api

import (
	"crypto/rand"
	"strings"
)

// Identifiers are a prefix followed by 26 characters of lower-case base32
// (128 bits of entropy). Session IDs double as working directory names, so
// the alphabet must stay path-safe.
const (
	sessionIDPrefix = "sess_"
	messageIDPrefix = "msg_"
	idBodyLen       = 26
)

// NewSessionID returns a fresh "sess_" identifier.
func NewSessionID() string {
	return sessionIDPrefix + strings.ToLower(rand.Text())
}

// NewMessageID returns a fresh "msg_" identifier.
func NewMessageID() string {
	return messageIDPrefix + strings.ToLower(rand.Text())
}

// ValidateSessionID reports whether id could have come from NewSessionID.
func ValidateSessionID(id string) bool {
	return validID(id, sessionIDPrefix)
}

// ValidateMessageID reports whether id could have come from NewMessageID.
func ValidateMessageID(id string) bool {
	return validID(id, messageIDPrefix)
}

func validID(id, prefix string) bool {
	body, ok := strings.CutPrefix(id, prefix)
	if !ok || len(body) != idBodyLen {
		return false
	}
	for i := 0; i < len(body); i++ {
		c := body[i]
		if (c < 'a' || c > 'z') && (c < '2' || c > '7') {
			return false
		}
	}
	return true
}
