package models

import "time"

// User is a registered FlowGuard account. The Gemini API key is stored
// sealed (AES-GCM ciphertext + nonce); only the services layer opens it.
type User struct {
	ID           int64
	FullName     string
	Email        string
	PasswordHash string
	APIKeyCipher []byte
	APIKeyNonce  []byte
	CreatedAt    time.Time
}

// HasAPIKey reports whether a sealed Gemini key is on file.
func (u *User) HasAPIKey() bool {
	return len(u.APIKeyCipher) > 0
}
