// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/exedra-dev/xrgate/catalog"
	"github.com/exedra-dev/xrgate/model"
	"github.com/exedra-dev/xrgate/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

var testMasterKey = bytes.Repeat([]byte{0x42}, 32)

type stubSource struct {
	record model.CertificateRecord
	err    error
	calls  int
}

func (s *stubSource) FindCertificateRecord(_ context.Context, _ model.PrincipalRef) (model.CertificateRecord, error) {
	s.calls++
	if s.err != nil {
		return model.CertificateRecord{}, s.err
	}
	return s.record, nil
}

// makeArchive builds a throwaway PKCS#12 bundle with a self-signed client
// certificate.
func makeArchive(t *testing.T, passphrase string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   "test-client",
			Organization: []string{"Exedra"},
		},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().Add(24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	archive, err := pkcs12.Modern.Encode(key, cert, nil, passphrase)
	require.NoError(t, err)
	return archive
}

func sealedRecord(t *testing.T, codec *vault.Codec, archive []byte, passphrase string) model.CertificateRecord {
	t.Helper()
	sealedArchive, err := codec.Encrypt(archive)
	require.NoError(t, err)
	sealedPassphrase, err := codec.Encrypt([]byte(passphrase))
	require.NoError(t, err)
	return model.CertificateRecord{
		Principal:   "alice",
		Archive:     sealedArchive,
		Passphrase:  sealedPassphrase,
		Fingerprint: "AA",
	}
}

func TestGetIdentity(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	codec, err := vault.NewCodec(testMasterKey)
	require.NoError(err)

	archive := makeArchive(t, "secret")
	source := &stubSource{record: sealedRecord(t, codec, archive, "secret")}
	factory := NewFactory(source, codec, NewCache(DefaultTTL, nil), Config{}, nil)

	ident, err := factory.GetIdentity(context.Background(), "alice")
	require.NoError(err)
	require.NotNil(ident)
	assert.NotNil(ident.HTTP)
	assert.Equal("AA", ident.Fingerprint)
	assert.False(ident.CreatedAt.IsZero())
}

func TestGetIdentityIdempotent(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	codec, err := vault.NewCodec(testMasterKey)
	require.NoError(err)

	archive := makeArchive(t, "secret")
	source := &stubSource{record: sealedRecord(t, codec, archive, "secret")}
	factory := NewFactory(source, codec, NewCache(DefaultTTL, nil), Config{}, nil)

	first, err := factory.GetIdentity(context.Background(), "alice")
	require.NoError(err)
	second, err := factory.GetIdentity(context.Background(), "alice")
	require.NoError(err)

	// the second call is served from the cache: one store read, same handle
	assert.Equal(1, source.calls)
	assert.Same(first, second)
}

func TestGetIdentityNotConfigured(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	codec, err := vault.NewCodec(testMasterKey)
	require.NoError(err)

	source := &stubSource{err: catalog.RecordNotFoundError{Kind: "certificate record", Key: "alice"}}
	factory := NewFactory(source, codec, NewCache(DefaultTTL, nil), Config{}, nil)

	_, err = factory.GetIdentity(context.Background(), "alice")
	assert.ErrorIs(err, ErrNotConfigured)
}

func TestGetIdentityWrongPassphrase(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	codec, err := vault.NewCodec(testMasterKey)
	require.NoError(err)

	archive := makeArchive(t, "secret")
	source := &stubSource{record: sealedRecord(t, codec, archive, "not-the-passphrase")}
	factory := NewFactory(source, codec, NewCache(DefaultTTL, nil), Config{}, nil)

	_, err = factory.GetIdentity(context.Background(), "alice")
	assert.ErrorIs(err, ErrInvalidCredential)
	assert.Equal(1, source.calls)
}

func TestGetIdentityTamperedArchive(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	codec, err := vault.NewCodec(testMasterKey)
	require.NoError(err)

	record := sealedRecord(t, codec, makeArchive(t, "secret"), "secret")
	record.Archive.Ciphertext[0] ^= 0x01
	source := &stubSource{record: record}
	factory := NewFactory(source, codec, NewCache(DefaultTTL, nil), Config{}, nil)

	_, err = factory.GetIdentity(context.Background(), "alice")
	assert.ErrorIs(err, ErrInvalidCredential)
}

func TestGetIdentityFailureIsNotCached(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	codec, err := vault.NewCodec(testMasterKey)
	require.NoError(err)

	source := &stubSource{record: sealedRecord(t, codec, makeArchive(t, "secret"), "wrong")}
	cache := NewCache(DefaultTTL, nil)
	factory := NewFactory(source, codec, cache, Config{}, nil)

	_, err = factory.GetIdentity(context.Background(), "alice")
	require.Error(err)
	_, err = factory.GetIdentity(context.Background(), "alice")
	require.Error(err)
	assert.Equal(2, source.calls)
	assert.Nil(cache.Get(CacheKey("alice")))
}

func TestInvalidate(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	codec, err := vault.NewCodec(testMasterKey)
	require.NoError(err)

	source := &stubSource{record: sealedRecord(t, codec, makeArchive(t, "secret"), "secret")}
	factory := NewFactory(source, codec, NewCache(DefaultTTL, nil), Config{}, nil)

	_, err = factory.GetIdentity(context.Background(), "alice")
	require.NoError(err)
	factory.Invalidate("alice")
	_, err = factory.GetIdentity(context.Background(), "alice")
	require.NoError(err)
	assert.Equal(2, source.calls)
}

func TestRedirectsAreSurfaced(t *testing.T) {
	assert, require := assert.New(t), require.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer server.Close()

	client := NewPlainClient(Config{})
	response, err := client.Get(server.URL)
	require.NoError(err)
	defer response.Body.Close()
	assert.Equal(http.StatusFound, response.StatusCode)
}

func TestExtractMetadata(t *testing.T) {
	assert, require := assert.New(t), require.New(t)

	archive := makeArchive(t, "secret")
	meta, err := ExtractMetadata(archive, "secret")
	require.NoError(err)

	assert.Len(meta.Fingerprint, 64)
	assert.Equal(strings.ToUpper(meta.Fingerprint), meta.Fingerprint)
	assert.Regexp("^[0-9A-F]{64}$", meta.Fingerprint)
	assert.Contains(meta.Subject, "CN=test-client")
	assert.Contains(meta.Subject, "O=Exedra")
	assert.False(meta.NotBefore.IsZero())
	assert.True(meta.NotAfter.After(meta.NotBefore))

	_, err = ExtractMetadata(archive, "wrong")
	assert.ErrorIs(err, ErrInvalidCredential)
}
