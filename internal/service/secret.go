package service

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alexedwards/argon2id"
)

// argon2idParams are the OWASP minimum parameters for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashSecret returns an Argon2id PHC hash of secret, suitable for the
// approval.secret_hash setting.
func HashSecret(secret string) (string, error) {
	return argon2id.CreateHash(secret, argon2idParams)
}

// SecretVerifier checks approval codes against the configured shared
// secret, given either in plain text or as an Argon2id hash. The hash wins
// when both are set. With neither, every code is rejected.
type SecretVerifier struct {
	plain  string
	hash   string
	logger *slog.Logger
}

// NewSecretVerifier creates a verifier.
func NewSecretVerifier(plain, hash string, logger *slog.Logger) *SecretVerifier {
	return &SecretVerifier{plain: plain, hash: hash, logger: logger}
}

// Configured reports whether any secret is set.
func (v *SecretVerifier) Configured() bool {
	return v.plain != "" || v.hash != ""
}

// Verify reports whether code matches the secret.
func (v *SecretVerifier) Verify(code string) bool {
	switch {
	case v.hash != "":
		match, err := safeArgon2idCompare(code, v.hash)
		if err != nil {
			v.logger.Warn("approval secret hash is unusable", "error", err)
			return false
		}
		return match
	case v.plain != "":
		return subtle.ConstantTimeCompare([]byte(code), []byte(v.plain)) == 1
	default:
		v.logger.Warn("approval completion rejected: no approval secret configured")
		return false
	}
}

// safeArgon2idCompare wraps the comparison so a malformed hash with
// out-of-range parameters cannot crash the process.
func safeArgon2idCompare(code, hash string) (match bool, err error) {
	if !strings.HasPrefix(hash, "$argon2id$") {
		return false, fmt.Errorf("not an argon2id hash")
	}
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(code, hash)
}
