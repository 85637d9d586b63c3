// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

// Package auth evaluates whether a principal may see or download from
// another principal's catalog.
package auth

import (
	"context"

	"github.com/exedra-dev/xrgate/catalog"
	"github.com/exedra-dev/xrgate/model"
)

// Oracle is the authorization boundary consulted before the gateway issues
// any downstream call on behalf of a non-owner.
//
// The defaults are asymmetric on purpose, preserved from the portal's rule
// model: a service without a grant is denied, a file without a rule is
// allowed (most services carry no per-file restriction). Flagged to
// stakeholders as possibly unintended, but not silently "fixed" here.
type Oracle interface {
	CanViewProvider(ctx context.Context, grantee model.PrincipalRef, providerID string) (bool, error)
	CanViewService(ctx context.Context, grantee model.PrincipalRef, providerID, serviceID string) (bool, error)
	CanDownloadService(ctx context.Context, grantee model.PrincipalRef, providerID, serviceID string) (bool, error)
	CanViewFile(ctx context.Context, grantee model.PrincipalRef, serviceID, filename string) (bool, error)
	CanDownloadFile(ctx context.Context, grantee model.PrincipalRef, serviceID, filename string) (bool, error)
}

// RuleSource is the slice of the persistence store the oracle reads.
type RuleSource interface {
	FindServices(ctx context.Context, filter catalog.ServiceFilter) ([]model.Service, error)
	FindServiceGrants(ctx context.Context, filter catalog.GrantFilter) ([]model.ServiceGrant, error)
	FindFileRules(ctx context.Context, grantee model.PrincipalRef, serviceID string) ([]model.FileRule, error)
}

// StoreOracle evaluates grants and file rules straight from the store.
type StoreOracle struct {
	rules RuleSource
}

func NewStoreOracle(rules RuleSource) *StoreOracle {
	return &StoreOracle{rules: rules}
}

var _ Oracle = (*StoreOracle)(nil)

// CanViewProvider allows a provider only when it has services and the
// grantee holds a view grant touching at least one of them.
func (o *StoreOracle) CanViewProvider(ctx context.Context, grantee model.PrincipalRef, providerID string) (bool, error) {
	services, err := o.rules.FindServices(ctx, catalog.ServiceFilter{ProviderID: providerID})
	if err != nil {
		return false, err
	}
	if len(services) == 0 {
		return false, nil
	}

	grants, err := o.rules.FindServiceGrants(ctx, catalog.GrantFilter{Grantee: grantee})
	if err != nil {
		return false, err
	}
	serviceIDs := map[string]bool{}
	for _, s := range services {
		serviceIDs[s.ID] = true
	}
	for _, g := range grants {
		if !g.CanView {
			continue
		}
		if serviceIDs[g.ServiceID] {
			return true, nil
		}
		if g.ServiceID == "" && (g.ProviderID == providerID || g.ProviderID == "") {
			return true, nil
		}
	}
	return false, nil
}

func (o *StoreOracle) CanViewService(ctx context.Context, grantee model.PrincipalRef, providerID, serviceID string) (bool, error) {
	// blanket view grant
	blanket, err := o.rules.FindServiceGrants(ctx, catalog.GrantFilter{Grantee: grantee, ProviderWide: true})
	if err != nil {
		return false, err
	}
	for _, g := range blanket {
		if g.CanView && (g.ProviderID == "" || g.ProviderID == providerID) {
			return true, nil
		}
	}

	grants, err := o.rules.FindServiceGrants(ctx, catalog.GrantFilter{Grantee: grantee, ServiceID: serviceID})
	if err != nil {
		return false, err
	}
	for _, g := range grants {
		if g.CanView {
			return true, nil
		}
	}
	return false, nil
}

func (o *StoreOracle) CanDownloadService(ctx context.Context, grantee model.PrincipalRef, providerID, serviceID string) (bool, error) {
	providerLevel, err := o.rules.FindServiceGrants(ctx, catalog.GrantFilter{Grantee: grantee, ProviderID: providerID})
	if err != nil {
		return false, err
	}
	for _, g := range providerLevel {
		if g.CanDownload {
			return true, nil
		}
	}

	serviceLevel, err := o.rules.FindServiceGrants(ctx, catalog.GrantFilter{Grantee: grantee, ServiceID: serviceID})
	if err != nil {
		return false, err
	}
	for _, g := range serviceLevel {
		if g.CanDownload {
			return true, nil
		}
	}
	return false, nil
}

// CanViewFile applies the file-level default: no rules for this grantee and
// service means no file restriction at all.
func (o *StoreOracle) CanViewFile(ctx context.Context, grantee model.PrincipalRef, serviceID, filename string) (bool, error) {
	rules, err := o.rules.FindFileRules(ctx, grantee, serviceID)
	if err != nil {
		return false, err
	}
	if len(rules) == 0 {
		return true, nil
	}
	for _, r := range rules {
		if r.Filename == filename {
			return r.CanView, nil
		}
	}
	return false, nil
}

func (o *StoreOracle) CanDownloadFile(ctx context.Context, grantee model.PrincipalRef, serviceID, filename string) (bool, error) {
	rules, err := o.rules.FindFileRules(ctx, grantee, serviceID)
	if err != nil {
		return false, err
	}
	if len(rules) == 0 {
		return true, nil
	}
	for _, r := range rules {
		if r.Filename == filename {
			return r.CanDownload, nil
		}
	}
	return false, nil
}
