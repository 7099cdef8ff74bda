package promotion

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

const maxSlugLen = 12

// GenerateCode derives a human-friendly code from name: an upper-case
// alphanumeric slug followed by four random hex characters, e.g.
// "SUMMERSALE-3FA2".
func GenerateCode(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() == maxSlugLen {
			break
		}
	}
	slug := b.String()
	if slug == "" {
		slug = "PROMO"
	}

	buf := make([]byte, 2)
	if _, err := rand.Read(buf); err != nil {
		buf = []byte(uuid.New().String()[:2])
	}
	return slug + "-" + strings.ToUpper(hex.EncodeToString(buf))
}

// NormalizeCode canonicalizes a submitted code for lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
