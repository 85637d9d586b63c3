// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

// Package certificate handles upload, display and removal of the encrypted
// client certificate material a principal authenticates with.
package certificate

import (
	"context"
	"errors"
	"time"

	"github.com/exedra-dev/xrgate/catalog"
	"github.com/exedra-dev/xrgate/identity"
	"github.com/exedra-dev/xrgate/model"
	"github.com/exedra-dev/xrgate/vault"
	"github.com/xmidt-org/sallust"
	"go.uber.org/zap"
)

// Invalidator drops a principal's cached identity after credential changes.
type Invalidator interface {
	Invalidate(principal model.PrincipalRef)
}

// Description is what the portal may see of a stored certificate: metadata
// only, never key material.
type Description struct {
	Label       string    `json:"label"`
	Fingerprint string    `json:"fingerprint"`
	Subject     string    `json:"subject"`
	NotBefore   time.Time `json:"notBefore"`
	NotAfter    time.Time `json:"notAfter"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Manager owns the certificate record lifecycle for principals.
type Manager struct {
	store       catalog.Store
	codec       *vault.Codec
	invalidator Invalidator

	// defaults bootstrap a principal's profile on first upload so discovery
	// can run before the user fills the profile form.
	defaults model.PrincipalConfig
	logger   *zap.Logger
}

func NewManager(store catalog.Store, codec *vault.Codec, invalidator Invalidator, defaults model.PrincipalConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = sallust.Default()
	}
	return &Manager{
		store:       store,
		codec:       codec,
		invalidator: invalidator,
		defaults:    defaults,
		logger:      logger,
	}
}

// Upload validates the archive+passphrase pair, encrypts both independently
// and replaces the principal's single live record. The cached identity is
// invalidated so the rotated credential takes effect immediately.
func (m *Manager) Upload(ctx context.Context, principal model.PrincipalRef, archive []byte, passphrase, label string) (Description, error) {
	// A bad pair is rejected here, before anything is stored.
	meta, err := identity.ExtractMetadata(archive, passphrase)
	if err != nil {
		return Description{}, err
	}

	sealedArchive, err := m.codec.Encrypt(archive)
	if err != nil {
		return Description{}, err
	}
	sealedPassphrase, err := m.codec.Encrypt([]byte(passphrase))
	if err != nil {
		return Description{}, err
	}

	record := model.CertificateRecord{
		Principal:   principal,
		Label:       label,
		Archive:     sealedArchive,
		Passphrase:  sealedPassphrase,
		Fingerprint: meta.Fingerprint,
		Subject:     meta.Subject,
		NotBefore:   meta.NotBefore,
		NotAfter:    meta.NotAfter,
	}
	if err := m.store.UpsertCertificateRecord(ctx, record); err != nil {
		return Description{}, err
	}
	m.invalidator.Invalidate(principal)

	if err := m.bootstrapProfile(ctx, principal); err != nil {
		return Description{}, err
	}

	m.logger.Info("client certificate replaced",
		zap.String("principal", string(principal)),
		zap.String("fingerprint", meta.Fingerprint),
		zap.Time("notAfter", meta.NotAfter))
	return Description{
		Label:       label,
		Fingerprint: meta.Fingerprint,
		Subject:     meta.Subject,
		NotBefore:   meta.NotBefore,
		NotAfter:    meta.NotAfter,
	}, nil
}

// Describe returns display metadata for the principal's stored certificate.
func (m *Manager) Describe(ctx context.Context, principal model.PrincipalRef) (Description, error) {
	record, err := m.store.FindCertificateRecord(ctx, principal)
	if err != nil {
		return Description{}, err
	}
	return Description{
		Label:       record.Label,
		Fingerprint: record.Fingerprint,
		Subject:     record.Subject,
		NotBefore:   record.NotBefore,
		NotAfter:    record.NotAfter,
		UpdatedAt:   record.UpdatedAt,
	}, nil
}

// Delete removes the record and invalidates the cached identity.
func (m *Manager) Delete(ctx context.Context, principal model.PrincipalRef) error {
	if err := m.store.DeleteCertificateRecord(ctx, principal); err != nil {
		return err
	}
	m.invalidator.Invalidate(principal)
	return nil
}

// bootstrapProfile seeds the principal's profile from the configured default
// X-Road client values when no profile exists yet.
func (m *Manager) bootstrapProfile(ctx context.Context, principal model.PrincipalRef) error {
	_, err := m.store.FindPrincipalConfig(ctx, principal)
	if err == nil {
		return nil
	}
	if !errors.Is(err, catalog.ErrRecordNotFound) {
		return err
	}

	seed := m.defaults
	seed.Principal = principal
	if !seed.Complete() {
		// Nothing sensible to seed; the user completes the profile manually.
		return nil
	}
	return m.store.UpsertPrincipalConfig(ctx, seed)
}
