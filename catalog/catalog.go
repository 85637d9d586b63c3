// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

// Package catalog defines the persistence interface for everything the
// gateway stores: principal profiles, encrypted certificate records, the
// discovered provider/service/endpoint graph, and access rules. Gateway
// logic talks only to this interface; the concrete backends live in the
// subpackages.
package catalog

import (
	"context"

	"github.com/exedra-dev/xrgate/model"
)

// Operation labels for store metrics.
const (
	TypeLabel  = "type"
	InsertType = "insert"
	DeleteType = "delete"
	ReadType   = "read"
)

// ProviderFilter narrows FindProviders. Zero-valued fields match anything;
// RouteVersion is a pointer because the empty route version is a real value.
type ProviderFilter struct {
	Principal    model.PrincipalRef
	ID           string
	RouteVersion *string
	Client       *model.ClientID
}

// ServiceFilter narrows FindServices.
type ServiceFilter struct {
	Principal   model.PrincipalRef
	ID          string
	ProviderID  string
	ServiceCode string
}

// EndpointFilter narrows FindEndpoints.
type EndpointFilter struct {
	Principal model.PrincipalRef
	ID        string
	ServiceID string
	Method    string
	Path      string
}

// GrantFilter narrows FindServiceGrants. ProviderWide selects only grants
// with no service id (provider-level or blanket grants).
type GrantFilter struct {
	Grantee      model.PrincipalRef
	ProviderID   string
	ServiceID    string
	ProviderWide bool
}

// Store is the persistence boundary. Implementations serialize conflicting
// writes at the storage layer; callers rely only on find-or-create
// idempotency, never on application-level locking.
type Store interface {
	FindPrincipalConfig(ctx context.Context, principal model.PrincipalRef) (model.PrincipalConfig, error)
	UpsertPrincipalConfig(ctx context.Context, config model.PrincipalConfig) error

	FindCertificateRecord(ctx context.Context, principal model.PrincipalRef) (model.CertificateRecord, error)
	UpsertCertificateRecord(ctx context.Context, record model.CertificateRecord) error
	DeleteCertificateRecord(ctx context.Context, principal model.PrincipalRef) error

	FindProviders(ctx context.Context, filter ProviderFilter) ([]model.Provider, error)
	UpsertProvider(ctx context.Context, provider model.Provider) (model.Provider, error)
	FindServices(ctx context.Context, filter ServiceFilter) ([]model.Service, error)
	UpsertService(ctx context.Context, service model.Service) (model.Service, error)
	FindEndpoints(ctx context.Context, filter EndpointFilter) ([]model.Endpoint, error)
	UpsertEndpoint(ctx context.Context, endpoint model.Endpoint) (model.Endpoint, error)

	// DeleteCatalog removes every endpoint, service and provider owned by the
	// principal. Discovery calls this before rebuilding so the catalog never
	// holds stale entries.
	DeleteCatalog(ctx context.Context, principal model.PrincipalRef) error

	FindServiceGrants(ctx context.Context, filter GrantFilter) ([]model.ServiceGrant, error)
	UpsertServiceGrant(ctx context.Context, grant model.ServiceGrant) error
	FindFileRules(ctx context.Context, grantee model.PrincipalRef, serviceID string) ([]model.FileRule, error)
	UpsertFileRule(ctx context.Context, rule model.FileRule) error
}

// MatchProvider reports whether a provider satisfies a filter. Shared by the
// backends that filter in application code.
func MatchProvider(p model.Provider, f ProviderFilter) bool {
	if f.Principal != "" && p.Principal != f.Principal {
		return false
	}
	if f.ID != "" && p.ID != f.ID {
		return false
	}
	if f.RouteVersion != nil && p.RouteVersion != *f.RouteVersion {
		return false
	}
	if f.Client != nil && p.ClientID != *f.Client {
		return false
	}
	return true
}

// MatchService reports whether a service satisfies a filter.
func MatchService(s model.Service, f ServiceFilter) bool {
	if f.Principal != "" && s.Principal != f.Principal {
		return false
	}
	if f.ID != "" && s.ID != f.ID {
		return false
	}
	if f.ProviderID != "" && s.ProviderID != f.ProviderID {
		return false
	}
	if f.ServiceCode != "" && s.ServiceCode != f.ServiceCode {
		return false
	}
	return true
}

// MatchEndpoint reports whether an endpoint satisfies a filter.
func MatchEndpoint(e model.Endpoint, f EndpointFilter) bool {
	if f.Principal != "" && e.Principal != f.Principal {
		return false
	}
	if f.ID != "" && e.ID != f.ID {
		return false
	}
	if f.ServiceID != "" && e.ServiceID != f.ServiceID {
		return false
	}
	if f.Method != "" && e.Method != f.Method {
		return false
	}
	if f.Path != "" && e.Path != f.Path {
		return false
	}
	return true
}

// MatchGrant reports whether a grant satisfies a filter.
func MatchGrant(g model.ServiceGrant, f GrantFilter) bool {
	if f.Grantee != "" && g.Grantee != f.Grantee {
		return false
	}
	if f.ProviderID != "" && g.ProviderID != f.ProviderID {
		return false
	}
	if f.ServiceID != "" && g.ServiceID != f.ServiceID {
		return false
	}
	if f.ProviderWide && g.ServiceID != "" {
		return false
	}
	return true
}
