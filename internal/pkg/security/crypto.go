package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// KeyEnv names the environment variable that overrides the key file.
const KeyEnv = "QUERYLIGHT_MASTER_KEY"

// Key is a 32-byte AES-256 key used to seal files at rest.
type Key []byte

// LoadKey reads the key from KeyEnv or keyPath, generating and saving a new
// one when neither holds a valid key. It reports whether a key was generated.
func LoadKey(keyPath string) (Key, bool, error) {
	// 1. Environment
	if envKey := os.Getenv(KeyEnv); envKey != "" {
		if key, err := hex.DecodeString(envKey); err == nil && len(key) == 32 {
			return key, false, nil
		}
	}

	// 2. Key file
	if data, err := os.ReadFile(keyPath); err == nil {
		key, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err == nil && len(key) == 32 {
			return key, false, nil
		}
	} else if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("read key file: %w", err)
	}

	// 3. Generate
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, false, fmt.Errorf("generate key: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return nil, false, fmt.Errorf("save key to %s: %w", keyPath, err)
	}
	return key, true, nil
}

func (k Key) gcm() (cipher.AEAD, error) {
	if len(k) != 32 {
		return nil, errors.New("key not initialized or invalid length")
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt encrypts plaintext using AES-GCM and returns Nonce + Ciphertext.
func (k Key) Encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := k.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext (Nonce + Ciphertext) using AES-GCM.
func (k Key) Decrypt(data []byte) ([]byte, error) {
	gcm, err := k.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
