package certmanager

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DeriveCommonName builds the CA identity from the owner's name:
// "firstname.lastname", lowercased, accents stripped, anything outside
// [a-z0-9.] dropped. The derivation is deterministic so re-issuance for the
// same owner always targets the same identity.
func DeriveCommonName(firstname, lastname string) string {
	s := strings.ToLower(strings.TrimSpace(firstname) + "." + strings.TrimSpace(lastname))

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(t, s); err == nil {
		s = out
	}

	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// newUnlockSecret returns a 32-char hex secret protecting the .p12 export.
func newUnlockSecret() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
