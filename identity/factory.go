// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

// Package identity materializes mutual-TLS client identities from encrypted
// certificate material and caches them per principal.
package identity

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/exedra-dev/xrgate/catalog"
	"github.com/exedra-dev/xrgate/model"
	"github.com/exedra-dev/xrgate/vault"
	"github.com/xmidt-org/sallust"
	"go.uber.org/zap"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// DefaultRequestTimeout bounds every downstream security server call.
const DefaultRequestTimeout = 20 * time.Second

var (
	// ErrNotConfigured means no certificate is on file for the principal.
	// Surfaced to the portal as a setup prompt, never retried.
	ErrNotConfigured = errors.New("no client certificate on file for principal")

	// ErrInvalidCredential means the stored material failed decryption or the
	// decrypted archive+passphrase pair was rejected by the TLS stack. Fatal
	// for that credential; the user must re-upload.
	ErrInvalidCredential = errors.New("stored client certificate material is invalid")
)

// Identity is a reusable client-authentication handle: an HTTP client with
// the principal's certificate and key attached.
type Identity struct {
	HTTP        *http.Client
	Fingerprint string
	CreatedAt   time.Time
}

// CertificateSource is the slice of the persistence store the factory needs.
type CertificateSource interface {
	FindCertificateRecord(ctx context.Context, principal model.PrincipalRef) (model.CertificateRecord, error)
}

// Config carries the factory's policy knobs.
type Config struct {
	// InsecureTLS disables server certificate verification. Development only;
	// verification is on unless this is set explicitly.
	InsecureTLS bool

	// RequestTimeout for outbound calls made with the identity. Defaults to
	// DefaultRequestTimeout.
	RequestTimeout time.Duration
}

// Factory builds identities on demand and publishes them to the cache.
type Factory struct {
	source  CertificateSource
	codec   *vault.Codec
	cache   *Cache
	config  Config
	logger  *zap.Logger
}

// NewFactory wires a factory. The vault codec must already hold the master
// key; its absence is a fatal startup condition handled upstream.
func NewFactory(source CertificateSource, codec *vault.Codec, cache *Cache, config Config, logger *zap.Logger) *Factory {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = sallust.Default()
	}
	return &Factory{
		source: source,
		codec:  codec,
		cache:  cache,
		config: config,
		logger: logger,
	}
}

// GetIdentity returns the mTLS identity for a principal, building and caching
// it on first use. A bad identity is never cached.
func (f *Factory) GetIdentity(ctx context.Context, principal model.PrincipalRef) (*Identity, error) {
	key := CacheKey(string(principal))
	if cached := f.cache.Get(key); cached != nil {
		return cached, nil
	}

	record, err := f.source.FindCertificateRecord(ctx, principal)
	if err != nil {
		if errors.Is(err, catalog.ErrRecordNotFound) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("failed loading certificate record: %w", err)
	}

	archive, err := f.codec.Decrypt(record.Archive)
	if err != nil {
		return nil, fmt.Errorf("%w: archive: %s", ErrInvalidCredential, err)
	}
	passphrase, err := f.codec.Decrypt(record.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: passphrase: %s", ErrInvalidCredential, err)
	}

	cert, err := decodeClientCertificate(archive, string(passphrase))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCredential, err)
	}

	identity := &Identity{
		HTTP:        f.newClient(cert),
		Fingerprint: record.Fingerprint,
		CreatedAt:   time.Now(),
	}
	f.cache.Put(key, identity)
	f.logger.Debug("materialized mTLS identity",
		zap.String("principal", string(principal)),
		zap.String("fingerprint", record.Fingerprint))
	return identity, nil
}

// Invalidate drops any cached identity for a principal.
func (f *Factory) Invalidate(principal model.PrincipalRef) {
	f.cache.Invalidate(CacheKey(string(principal)))
}

func (f *Factory) newClient(cert tls.Certificate) *http.Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			Certificates:       []tls.Certificate{cert},
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: f.config.InsecureTLS, // nolint:gosec // explicit dev override
		},
	}
	return &http.Client{
		Transport:     transport,
		Timeout:       f.config.RequestTimeout,
		CheckRedirect: neverFollowRedirects,
	}
}

// NewPlainClient builds an outbound client without a client certificate, for
// the listClients attempt some deployments accept anonymously.
func NewPlainClient(config Config) *http.Client {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion:         tls.VersionTLS12,
				InsecureSkipVerify: config.InsecureTLS, // nolint:gosec // explicit dev override
			},
		},
		Timeout:       timeout,
		CheckRedirect: neverFollowRedirects,
	}
}

// A redirect from a security server means misconfiguration; the 3xx is
// returned to the caller instead of being followed into a different trust
// context.
func neverFollowRedirects(req *http.Request, via []*http.Request) error {
	return http.ErrUseLastResponse
}

// decodeClientCertificate validates the archive+passphrase pair and builds
// the TLS certificate chain from it.
func decodeClientCertificate(archive []byte, passphrase string) (tls.Certificate, error) {
	key, leaf, caCerts, err := pkcs12.DecodeChain(archive, passphrase)
	if err != nil {
		return tls.Certificate{}, err
	}

	chain := [][]byte{leaf.Raw}
	for _, ca := range caCerts {
		chain = append(chain, ca.Raw)
	}
	return tls.Certificate{
		Certificate: chain,
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}
