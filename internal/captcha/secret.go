package captcha

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const generatedSecretBytes = 32

// Secret is the server-held key behind challenge commitments. It is built
// once at startup and only read afterwards.
type Secret struct {
	key []byte
}

// NewSecret returns a Secret for the configured value. An empty value yields
// a random secret that lives for the process lifetime, so a restart
// invalidates outstanding challenges.
func NewSecret(configured string) (Secret, error) {
	if configured != "" {
		return Secret{key: []byte(configured)}, nil
	}
	key := make([]byte, generatedSecretBytes)
	if _, err := rand.Read(key); err != nil {
		return Secret{}, eris.Wrap(err, "captcha: generate secret")
	}
	zap.L().Warn("captcha: no secret configured, generated an ephemeral one")
	return Secret{key: key}, nil
}

// Commit returns the hex HMAC-SHA256 of "id:answer".
func (s Secret) Commit(id, answer string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(id + ":" + answer))
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches compares a commitment for answer against want in constant time.
func (s Secret) Matches(id, answer, want string) bool {
	return hmac.Equal([]byte(s.Commit(id, answer)), []byte(want))
}

// IsZero reports whether the secret was never initialized.
func (s Secret) IsZero() bool {
	return len(s.key) == 0
}
