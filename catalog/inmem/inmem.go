// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/exedra-dev/xrgate/catalog"
	"github.com/exedra-dev/xrgate/model"
	"github.com/google/uuid"
)

// InMem implements the catalog store with plain maps. It exists so an
// instance can run without a dedicated database and so tests do not need
// one; not meant for anything that must survive a restart.
type InMem struct {
	lock      sync.Mutex
	configs   map[model.PrincipalRef]model.PrincipalConfig
	certs     map[model.PrincipalRef]model.CertificateRecord
	providers map[string]model.Provider
	services  map[string]model.Service
	endpoints map[string]model.Endpoint
	grants    []model.ServiceGrant
	fileRules []model.FileRule
	now       func() time.Time
}

func NewInMem() *InMem {
	return &InMem{
		configs:   map[model.PrincipalRef]model.PrincipalConfig{},
		certs:     map[model.PrincipalRef]model.CertificateRecord{},
		providers: map[string]model.Provider{},
		services:  map[string]model.Service{},
		endpoints: map[string]model.Endpoint{},
		now:       time.Now,
	}
}

var _ catalog.Store = (*InMem)(nil)

func (s *InMem) FindPrincipalConfig(_ context.Context, principal model.PrincipalRef) (model.PrincipalConfig, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	config, ok := s.configs[principal]
	if !ok {
		return model.PrincipalConfig{}, catalog.RecordNotFoundError{Kind: "principal config", Key: string(principal)}
	}
	return config, nil
}

func (s *InMem) UpsertPrincipalConfig(_ context.Context, config model.PrincipalConfig) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.configs[config.Principal] = config
	return nil
}

func (s *InMem) FindCertificateRecord(_ context.Context, principal model.PrincipalRef) (model.CertificateRecord, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	record, ok := s.certs[principal]
	if !ok {
		return model.CertificateRecord{}, catalog.RecordNotFoundError{Kind: "certificate record", Key: string(principal)}
	}
	return record, nil
}

func (s *InMem) UpsertCertificateRecord(_ context.Context, record model.CertificateRecord) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	record.UpdatedAt = s.now()
	s.certs[record.Principal] = record
	return nil
}

func (s *InMem) DeleteCertificateRecord(_ context.Context, principal model.PrincipalRef) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.certs[principal]; !ok {
		return catalog.RecordNotFoundError{Kind: "certificate record", Key: string(principal)}
	}
	delete(s.certs, principal)
	return nil
}

func (s *InMem) FindProviders(_ context.Context, filter catalog.ProviderFilter) ([]model.Provider, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	var out []model.Provider
	for _, p := range s.providers {
		if catalog.MatchProvider(p, filter) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *InMem) UpsertProvider(_ context.Context, provider model.Provider) (model.Provider, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if provider.ID == "" {
		provider.ID = uuid.NewString()
	}
	provider.UpdatedAt = s.now()
	s.providers[provider.ID] = provider
	return provider, nil
}

func (s *InMem) FindServices(_ context.Context, filter catalog.ServiceFilter) ([]model.Service, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	var out []model.Service
	for _, svc := range s.services {
		if catalog.MatchService(svc, filter) {
			out = append(out, svc)
		}
	}
	return out, nil
}

func (s *InMem) UpsertService(_ context.Context, service model.Service) (model.Service, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if service.ID == "" {
		service.ID = uuid.NewString()
	}
	service.UpdatedAt = s.now()
	s.services[service.ID] = service
	return service, nil
}

func (s *InMem) FindEndpoints(_ context.Context, filter catalog.EndpointFilter) ([]model.Endpoint, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	var out []model.Endpoint
	for _, e := range s.endpoints {
		if catalog.MatchEndpoint(e, filter) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMem) UpsertEndpoint(_ context.Context, endpoint model.Endpoint) (model.Endpoint, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if endpoint.ID == "" {
		endpoint.ID = uuid.NewString()
	}
	endpoint.UpdatedAt = s.now()
	s.endpoints[endpoint.ID] = endpoint
	return endpoint, nil
}

func (s *InMem) DeleteCatalog(_ context.Context, principal model.PrincipalRef) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	for id, e := range s.endpoints {
		if e.Principal == principal {
			delete(s.endpoints, id)
		}
	}
	for id, svc := range s.services {
		if svc.Principal == principal {
			delete(s.services, id)
		}
	}
	for id, p := range s.providers {
		if p.Principal == principal {
			delete(s.providers, id)
		}
	}
	return nil
}

func (s *InMem) FindServiceGrants(_ context.Context, filter catalog.GrantFilter) ([]model.ServiceGrant, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	var out []model.ServiceGrant
	for _, g := range s.grants {
		if catalog.MatchGrant(g, filter) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *InMem) UpsertServiceGrant(_ context.Context, grant model.ServiceGrant) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	for i, g := range s.grants {
		if g.Grantee == grant.Grantee && g.ProviderID == grant.ProviderID && g.ServiceID == grant.ServiceID {
			s.grants[i] = grant
			return nil
		}
	}
	s.grants = append(s.grants, grant)
	return nil
}

func (s *InMem) FindFileRules(_ context.Context, grantee model.PrincipalRef, serviceID string) ([]model.FileRule, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	var out []model.FileRule
	for _, r := range s.fileRules {
		if r.Grantee == grantee && r.ServiceID == serviceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *InMem) UpsertFileRule(_ context.Context, rule model.FileRule) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	for i, r := range s.fileRules {
		if r.Grantee == rule.Grantee && r.ServiceID == rule.ServiceID && r.Filename == rule.Filename {
			s.fileRules[i] = rule
			return nil
		}
	}
	s.fileRules = append(s.fileRules, rule)
	return nil
}
