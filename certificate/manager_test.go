// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package certificate

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/exedra-dev/xrgate/catalog"
	"github.com/exedra-dev/xrgate/catalog/inmem"
	"github.com/exedra-dev/xrgate/identity"
	"github.com/exedra-dev/xrgate/model"
	"github.com/exedra-dev/xrgate/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

const alice = model.PrincipalRef("alice")

var completeDefaults = model.PrincipalConfig{
	BaseURL: "https://ss.example.com",
	Client:  model.ClientID{XRoadInstance: "EE", MemberClass: "COM", MemberCode: "1", SubsystemCode: "S"},
}

type recordingInvalidator struct {
	invalidated []model.PrincipalRef
}

func (r *recordingInvalidator) Invalidate(principal model.PrincipalRef) {
	r.invalidated = append(r.invalidated, principal)
}

func makeArchive(t *testing.T, passphrase string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "upload-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	archive, err := pkcs12.Modern.Encode(key, cert, nil, passphrase)
	require.NoError(t, err)
	return archive
}

func newTestManager(t *testing.T, defaults model.PrincipalConfig) (*Manager, *inmem.InMem, *recordingInvalidator) {
	t.Helper()
	codec, err := vault.NewCodec(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	store := inmem.NewInMem()
	invalidator := &recordingInvalidator{}
	return NewManager(store, codec, invalidator, defaults, nil), store, invalidator
}

func TestUpload(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	manager, store, invalidator := newTestManager(t, completeDefaults)
	ctx := context.Background()

	archive := makeArchive(t, "secret")
	description, err := manager.Upload(ctx, alice, archive, "secret", "production cert")
	require.NoError(err)

	assert.Equal("production cert", description.Label)
	assert.Regexp("^[0-9A-F]{64}$", description.Fingerprint)
	assert.Contains(description.Subject, "CN=upload-test")

	// the stored record holds sealed blobs, never the raw archive
	record, err := store.FindCertificateRecord(ctx, alice)
	require.NoError(err)
	assert.NotEqual(archive, record.Archive.Ciphertext)
	assert.NotContains(string(record.Passphrase.Ciphertext), "secret")

	assert.Equal([]model.PrincipalRef{alice}, invalidator.invalidated)
}

func TestUploadBootstrapsProfile(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	manager, store, _ := newTestManager(t, completeDefaults)
	ctx := context.Background()

	_, err := manager.Upload(ctx, alice, makeArchive(t, "secret"), "secret", "")
	require.NoError(err)

	config, err := store.FindPrincipalConfig(ctx, alice)
	require.NoError(err)
	assert.Equal(alice, config.Principal)
	assert.Equal(completeDefaults.BaseURL, config.BaseURL)
	assert.Equal(completeDefaults.Client, config.Client)
}

func TestUploadKeepsExistingProfile(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	manager, store, _ := newTestManager(t, completeDefaults)
	ctx := context.Background()

	existing := model.PrincipalConfig{
		Principal: alice,
		BaseURL:   "https://mine.example.com",
		Client:    model.ClientID{XRoadInstance: "EE", MemberClass: "GOV", MemberCode: "9", SubsystemCode: "X"},
	}
	require.NoError(store.UpsertPrincipalConfig(ctx, existing))

	_, err := manager.Upload(ctx, alice, makeArchive(t, "secret"), "secret", "")
	require.NoError(err)

	config, err := store.FindPrincipalConfig(ctx, alice)
	require.NoError(err)
	assert.Equal(existing, config)
}

func TestUploadWithoutDefaultsSkipsBootstrap(t *testing.T) {
	require := require.New(t)
	manager, store, _ := newTestManager(t, model.PrincipalConfig{})
	ctx := context.Background()

	_, err := manager.Upload(ctx, alice, makeArchive(t, "secret"), "secret", "")
	require.NoError(err)

	_, err = store.FindPrincipalConfig(ctx, alice)
	require.ErrorIs(err, catalog.ErrRecordNotFound)
}

func TestUploadRejectsBadPassphrase(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	manager, store, invalidator := newTestManager(t, completeDefaults)
	ctx := context.Background()

	_, err := manager.Upload(ctx, alice, makeArchive(t, "secret"), "wrong", "")
	require.ErrorIs(err, identity.ErrInvalidCredential)

	// validation failed before anything was written or invalidated
	_, err = store.FindCertificateRecord(ctx, alice)
	assert.ErrorIs(err, catalog.ErrRecordNotFound)
	assert.Empty(invalidator.invalidated)
}

func TestDescribe(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	manager, _, _ := newTestManager(t, completeDefaults)
	ctx := context.Background()

	_, err := manager.Describe(ctx, alice)
	assert.ErrorIs(err, catalog.ErrRecordNotFound)

	uploaded, err := manager.Upload(ctx, alice, makeArchive(t, "secret"), "secret", "prod")
	require.NoError(err)

	described, err := manager.Describe(ctx, alice)
	require.NoError(err)
	assert.Equal(uploaded.Fingerprint, described.Fingerprint)
	assert.Equal("prod", described.Label)
	assert.False(described.UpdatedAt.IsZero())
}

func TestDelete(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	manager, store, invalidator := newTestManager(t, completeDefaults)
	ctx := context.Background()

	assert.ErrorIs(manager.Delete(ctx, alice), catalog.ErrRecordNotFound)

	_, err := manager.Upload(ctx, alice, makeArchive(t, "secret"), "secret", "")
	require.NoError(err)
	require.NoError(manager.Delete(ctx, alice))

	_, err = store.FindCertificateRecord(ctx, alice)
	assert.ErrorIs(err, catalog.ErrRecordNotFound)
	assert.Equal([]model.PrincipalRef{alice, alice}, invalidator.invalidated)
}
