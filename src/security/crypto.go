package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// EncryptString seals a plaintext credential with AES-GCM under the
// configured exchange credentials key and returns it base64 encoded.
func EncryptString(plaintext string) (string, error) {
	gcm, err := newGCM()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString.
func DecryptString(encoded string) (string, error) {
	gcm, err := newGCM()
	if err != nil {
		return "", err
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("credential is not valid base64: %w", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return "", errors.New("credential payload too short")
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential: %w", err)
	}

	return string(plaintext), nil
}

func newGCM() (cipher.AEAD, error) {
	config := GetConfig()
	if config.ExchangeCRKey == "" {
		return nil, errors.New("EXCHANGE_CREDENTIALS_KEY not set")
	}

	key, err := base64.StdEncoding.DecodeString(config.ExchangeCRKey)
	if err != nil {
		return nil, fmt.Errorf("credentials key is not valid base64: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}

	return cipher.NewGCM(block)
}
