package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

// Admin tokens scoring below this zxcvbn level trigger a startup warning.
const minTokenScore = 3

// IsWeakToken reports whether the admin token is guessable. An empty token
// means admin auth is switched off entirely, which is a deliberate choice
// rather than a weak secret, so it is not flagged.
func IsWeakToken(token string) bool {
	if token == "" {
		return false
	}
	return zxcvbn.PasswordStrength(token, nil).Score < minTokenScore
}
