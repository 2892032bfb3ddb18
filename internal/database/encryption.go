package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	encryptionSecretEnv = "CHATRELAY_ENCRYPTION_SECRET"
	encryptionSaltEnv   = "CHATRELAY_ENCRYPTION_SALT"

	defaultEncryptionSalt = "chatrelay-content-salt-v1"
	keyIterations         = 100000
	keyLength             = 32
	nonceSize             = 12
)

// encryptor provides optional at-rest encryption of message content. When no
// secret is configured all operations pass data through unchanged.
type encryptor struct {
	gcm cipher.AEAD
}

func NewEncryptor() (*encryptor, error) {
	secret := os.Getenv(encryptionSecretEnv)
	if secret == "" {
		return &encryptor{gcm: nil}, nil
	}

	salt := os.Getenv(encryptionSaltEnv)
	if salt == "" {
		salt = defaultEncryptionSalt
	}

	key := pbkdf2.Key([]byte(secret), []byte(salt), keyIterations, keyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm}, nil
}

func (e *encryptor) EncryptIfEnabled(plaintext string) (string, error) {
	if plaintext == "" || e.gcm == nil {
		return plaintext, nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

func (e *encryptor) DecryptIfEnabled(stored string) (string, error) {
	if stored == "" || e.gcm == nil {
		return stored, nil
	}

	data, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := e.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
