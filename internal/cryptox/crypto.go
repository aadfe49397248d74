// Package cryptox implements the application-layer cipher used for the inner
// encryption step of level-3 fields: AES-256-GCM with a random nonce
// prepended to the ciphertext, so a sealed value is a single opaque blob.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/piivault/piivault/internal/common"
)

// KeySize is the required key length in bytes (AES-256).
const KeySize = 32

// Seal encrypts plaintext with the given key and returns nonce||ciphertext.
//
// The key must be exactly KeySize bytes. A fresh 12-byte nonce is generated
// for every call.
func Seal(plaintext, key []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: nonce generation: %v", common.ErrEncryption, err)
	}

	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal using the given key.
//
// The key must match the one used for sealing; a mismatched key or a
// tampered blob fails GCM authentication and returns an error wrapping
// common.ErrDecryption.
func Open(blob, key []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(blob) < aesgcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext shorter than nonce", common.ErrDecryption)
	}

	nonce, ciphertext := blob[:aesgcm.NonceSize()], blob[aesgcm.NonceSize():]

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}

	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", common.ErrKeyRetrieval, KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	return cipher.NewGCM(block)
}
