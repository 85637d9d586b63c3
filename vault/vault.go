// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

// Package vault seals and opens certificate material under the process-wide
// master key. AES-256-GCM with a fresh 12-byte IV per call; the 16-byte
// authentication tag is stored apart from the ciphertext so records keep the
// three fields the portal schema defined.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/exedra-dev/xrgate/model"
)

const (
	keySize = 32
	ivSize  = 12
	tagSize = 16
)

var (
	// ErrBadKeyLength means the master key is not 32 bytes after hex decoding.
	ErrBadKeyLength = errors.New("master key must be 32 bytes")

	// ErrAuthenticationFailed means the authentication tag did not verify:
	// either the stored material was tampered with or the key is wrong.
	// Fatal for that credential, never retryable.
	ErrAuthenticationFailed = errors.New("sealed blob failed authentication")
)

// Codec encrypts and decrypts sealed blobs under a single master key.
type Codec struct {
	aead cipher.AEAD
	rand io.Reader
}

// NewCodec builds a codec from the raw 32-byte master key.
func NewCodec(masterKey []byte) (*Codec, error) {
	if len(masterKey) != keySize {
		return nil, fmt.Errorf("%w: got %d", ErrBadKeyLength, len(masterKey))
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Codec{aead: aead, rand: rand.Reader}, nil
}

// NewCodecFromHex builds a codec from the hex-encoded key form used in
// configuration.
func NewCodecFromHex(masterKey string) (*Codec, error) {
	raw, err := hex.DecodeString(masterKey)
	if err != nil {
		return nil, fmt.Errorf("%w: not valid hex", ErrBadKeyLength)
	}
	return NewCodec(raw)
}

// Encrypt seals plaintext under the master key. A fresh random IV is drawn
// on every call; reusing an IV under the same key would void GCM's
// guarantees, so there is deliberately no way to supply one.
func (c *Codec) Encrypt(plaintext []byte) (model.SealedBlob, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return model.SealedBlob{}, fmt.Errorf("failed drawing iv: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - tagSize
	return model.SealedBlob{
		Ciphertext: sealed[:split],
		IV:         iv,
		AuthTag:    sealed[split:],
	}, nil
}

// Decrypt opens a sealed blob. A failed tag check surfaces as
// ErrAuthenticationFailed.
func (c *Codec) Decrypt(blob model.SealedBlob) ([]byte, error) {
	if len(blob.IV) != ivSize || len(blob.AuthTag) != tagSize {
		return nil, ErrAuthenticationFailed
	}
	sealed := make([]byte, 0, len(blob.Ciphertext)+tagSize)
	sealed = append(sealed, blob.Ciphertext...)
	sealed = append(sealed, blob.AuthTag...)

	plaintext, err := c.aead.Open(nil, blob.IV, sealed, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}
