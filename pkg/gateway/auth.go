package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const maxAuthAttempts = 3

// AuthHandler manages challenge-response authentication
type AuthHandler struct {
	sharedSecret string
}

// NewAuthHandler creates a new authentication handler. An empty secret
// disables authentication.
func NewAuthHandler(sharedSecret string) *AuthHandler {
	return &AuthHandler{
		sharedSecret: sharedSecret,
	}
}

// Enabled reports whether clients must authenticate.
func (a *AuthHandler) Enabled() bool {
	return a.sharedSecret != ""
}

// GenerateChallenge generates a cryptographically random 32-byte challenge
func (a *AuthHandler) GenerateChallenge() (string, error) {
	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(challenge), nil
}

// Sign returns the hex HMAC-SHA256 of challenge under the shared secret.
func (a *AuthHandler) Sign(challenge string) string {
	h := hmac.New(sha256.New, []byte(a.sharedSecret))
	h.Write([]byte(challenge))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature verifies an HMAC-SHA256 signature against a challenge
func (a *AuthHandler) VerifySignature(challenge, signature string) bool {
	expected := a.Sign(challenge)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// VerifySecret compares a secret presented out of band, e.g. in an HTTP
// header.
func (a *AuthHandler) VerifySecret(secret string) bool {
	if !a.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(a.sharedSecret), []byte(secret)) == 1
}

// IssueChallenge stores a fresh challenge on client.
func (a *AuthHandler) IssueChallenge(client *Client) (AuthChallenge, error) {
	challenge, err := a.GenerateChallenge()
	if err != nil {
		return AuthChallenge{}, err
	}

	client.mu.Lock()
	client.challenge = challenge
	client.state = StateAuthenticating
	client.mu.Unlock()

	return AuthChallenge{Event: "auth.challenge", Challenge: challenge}, nil
}

// HandleAuthResponse processes an authentication response from a client.
// The second return value is true once the client has exhausted its attempts.
func (a *AuthHandler) HandleAuthResponse(client *Client, signature string) (AuthResult, bool) {
	client.mu.Lock()
	defer client.mu.Unlock()

	if client.challenge == "" {
		return AuthResult{
			Event:   "auth.failure",
			Message: "No challenge found",
		}, false
	}

	if !a.VerifySignature(client.challenge, signature) {
		client.authAttempts++
		if client.authAttempts >= maxAuthAttempts {
			return AuthResult{
				Event:   "auth.failure",
				Message: "Too many failed attempts",
			}, true
		}
		return AuthResult{
			Event:   "auth.failure",
			Message: "Invalid signature",
		}, false
	}

	client.authenticated = true
	client.state = StateAuthenticated
	client.authAttempts = 0
	client.challenge = ""

	return AuthResult{
		Event:   "auth.success",
		Success: true,
	}, false
}
