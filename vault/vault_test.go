// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"bytes"
	"strings"
	"testing"

	"github.com/exedra-dev/xrgate/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0xa5}, 32)
}

func TestNewCodec(t *testing.T) {
	type testCase struct {
		Description string
		Key         []byte
		ExpectedErr error
	}

	tcs := []testCase{
		{
			Description: "Valid 32 byte key",
			Key:         testKey(),
		},
		{
			Description: "Short key",
			Key:         []byte("too-short"),
			ExpectedErr: ErrBadKeyLength,
		},
		{
			Description: "Empty key",
			Key:         nil,
			ExpectedErr: ErrBadKeyLength,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.Description, func(t *testing.T) {
			assert := assert.New(t)
			c, err := NewCodec(tc.Key)
			if tc.ExpectedErr != nil {
				assert.ErrorIs(err, tc.ExpectedErr)
				assert.Nil(c)
				return
			}
			assert.NoError(err)
			assert.NotNil(c)
		})
	}
}

func TestNewCodecFromHex(t *testing.T) {
	assert := assert.New(t)

	c, err := NewCodecFromHex(strings.Repeat("ab", 32))
	assert.NoError(err)
	assert.NotNil(c)

	c, err = NewCodecFromHex("not hex at all")
	assert.ErrorIs(err, ErrBadKeyLength)
	assert.Nil(c)

	// valid hex, wrong length
	c, err = NewCodecFromHex("abcd")
	assert.ErrorIs(err, ErrBadKeyLength)
	assert.Nil(c)
}

func TestRoundTrip(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)
	)

	c, err := NewCodec(testKey())
	require.NoError(err)

	plaintexts := [][]byte{
		[]byte(""),
		[]byte("p"),
		[]byte("a longer passphrase with spaces and ünicode"),
		bytes.Repeat([]byte{0x00, 0xff}, 4096),
	}

	for _, p := range plaintexts {
		blob, err := c.Encrypt(p)
		require.NoError(err)
		assert.Len(blob.IV, 12)
		assert.Len(blob.AuthTag, 16)

		got, err := c.Decrypt(blob)
		require.NoError(err)
		assert.Equal(p, got)
	}
}

func TestFreshIVPerCall(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)
	)

	c, err := NewCodec(testKey())
	require.NoError(err)

	first, err := c.Encrypt([]byte("same plaintext"))
	require.NoError(err)
	second, err := c.Encrypt([]byte("same plaintext"))
	require.NoError(err)

	assert.NotEqual(first.IV, second.IV)
	assert.NotEqual(first.Ciphertext, second.Ciphertext)
}

func TestTamperDetection(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)
	)

	c, err := NewCodec(testKey())
	require.NoError(err)

	blob, err := c.Encrypt([]byte("certificate archive bytes"))
	require.NoError(err)

	flip := func(b model.SealedBlob, f func(*model.SealedBlob)) model.SealedBlob {
		out := model.SealedBlob{
			Ciphertext: append([]byte{}, b.Ciphertext...),
			IV:         append([]byte{}, b.IV...),
			AuthTag:    append([]byte{}, b.AuthTag...),
		}
		f(&out)
		return out
	}

	tampered := []model.SealedBlob{
		flip(blob, func(b *model.SealedBlob) { b.Ciphertext[0] ^= 0x01 }),
		flip(blob, func(b *model.SealedBlob) { b.IV[3] ^= 0x01 }),
		flip(blob, func(b *model.SealedBlob) { b.AuthTag[15] ^= 0x01 }),
	}

	for _, bad := range tampered {
		_, err := c.Decrypt(bad)
		assert.ErrorIs(err, ErrAuthenticationFailed)
	}

	// untampered still opens
	got, err := c.Decrypt(blob)
	assert.NoError(err)
	assert.Equal([]byte("certificate archive bytes"), got)
}

func TestDecryptWrongKey(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)
	)

	c1, err := NewCodec(testKey())
	require.NoError(err)
	c2, err := NewCodec(bytes.Repeat([]byte{0x5a}, 32))
	require.NoError(err)

	blob, err := c1.Encrypt([]byte("secret"))
	require.NoError(err)

	_, err = c2.Decrypt(blob)
	assert.ErrorIs(err, ErrAuthenticationFailed)
}

func TestDecryptMalformedBlob(t *testing.T) {
	assert := assert.New(t)
	c, err := NewCodec(testKey())
	assert.NoError(err)

	_, err = c.Decrypt(model.SealedBlob{Ciphertext: []byte("x"), IV: []byte("short"), AuthTag: bytes.Repeat([]byte{0}, 16)})
	assert.ErrorIs(err, ErrAuthenticationFailed)
}
