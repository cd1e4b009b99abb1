// Package secrets encrypts sender credentials at rest.
//
// Ciphertexts are AES-256-CBC with PKCS#7 padding, encoded as
// "<iv-hex>:<ciphertext-hex>". Passwords are decrypted only at the
// moment an SMTP connection is opened.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// KeySize is the required key length in bytes (AES-256).
const KeySize = 32

var (
	ErrBadKey        = errors.New("secrets: key must be 32 bytes")
	ErrBadCiphertext = errors.New("secrets: malformed ciphertext")
)

// Box encrypts and decrypts strings with a fixed key.
type Box struct {
	key []byte
}

// New creates a Box. The key must be exactly 32 bytes.
func New(key string) (*Box, error) {
	if len(key) != KeySize {
		return nil, ErrBadKey
	}
	return &Box{key: []byte(key)}, nil
}

// Encrypt returns "<iv-hex>:<ciphertext-hex>" for the given plaintext.
// A fresh random IV is generated per call, so encrypting the same value
// twice yields different ciphertexts.
func (b *Box) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", fmt.Errorf("secrets: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("secrets: generating IV: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Decrypt reverses Encrypt.
func (b *Box) Decrypt(ciphertext string) (string, error) {
	ivStr, dataStr, found := strings.Cut(ciphertext, ":")
	if !found {
		return "", ErrBadCiphertext
	}
	iv, err := hex.DecodeString(ivStr)
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrBadCiphertext
	}
	data, err := hex.DecodeString(dataStr)
	if err != nil || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", ErrBadCiphertext
	}

	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", fmt.Errorf("secrets: %w", err)
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)

	unpadded, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrBadCiphertext
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, ErrBadCiphertext
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrBadCiphertext
		}
	}
	return data[:len(data)-n], nil
}
