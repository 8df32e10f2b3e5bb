package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

// Admin tokens scoring below this zxcvbn score (scale 0 to 4) get a
// startup warning.
const minAdminTokenScore = 3

// IsWeakToken reports whether an admin API token is guessable enough to
// warrant a warning. An empty token disables admin auth entirely, an
// explicit operator choice rather than a weak secret, so it is not
// flagged here.
func IsWeakToken(token string) bool {
	if token == "" {
		return false
	}
	return zxcvbn.PasswordStrength(token, nil).Score < minAdminTokenScore
}
