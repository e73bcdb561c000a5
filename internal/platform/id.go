package platform

import (
	"crypto/rand"

	"github.com/google/uuid"
)

const shortIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const shortIDLength = 10

// NewID returns a random UUID string, used as the primary key for most records.
func NewID() string {
	return uuid.New().String()
}

// NewName returns a short prefixed identifier for records that are referenced
// by operators (servers, accidents), e.g. "srv-x9k2mfp03a".
func NewName(prefix string) string {
	b := make([]byte, shortIDLength)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	for i := range b {
		b[i] = shortIDAlphabet[b[i]%byte(len(shortIDAlphabet))]
	}
	return prefix + "-" + string(b)
}
