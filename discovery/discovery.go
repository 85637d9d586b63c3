// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

// Package discovery builds a principal's provider/service/endpoint catalog
// by walking the X-Road metaservices: listClients, per-subsystem
// route-version probing, and allowedMethods.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/exedra-dev/xrgate/catalog"
	"github.com/exedra-dev/xrgate/model"
	"github.com/xmidt-org/sallust"
	"go.uber.org/zap"
)

var (
	// ErrIncompleteProfile means the principal's X-Road client fields are not
	// all set. User-fixable; surfaced as a setup prompt.
	ErrIncompleteProfile = errors.New("x-road profile incomplete for principal")

	// ErrListClients means the foundational listClients call failed; the
	// whole refresh is aborted since no catalog can be built without it. The
	// scheduler provides the retry loop at its own grain.
	ErrListClients = errors.New("listClients failed")
)

// Result is the aggregate outcome of one catalog refresh.
type Result struct {
	Discovered   int `json:"discovered"`
	WithServices int `json:"withServices"`
}

// Refresher rebuilds catalogs with delete-then-recreate semantics: a refresh
// first drops everything the principal owns, then repopulates from the
// freshly fetched catalog, so no stale entry can survive. A crash midway
// leaves the catalog empty, not duplicated, and the next run recovers it.
type Refresher struct {
	store  catalog.Store
	client *ServerClient
	logger *zap.Logger
}

func NewRefresher(store catalog.Store, client *ServerClient, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = sallust.Default()
	}
	return &Refresher{store: store, client: client, logger: logger}
}

// Refresh runs one full discovery pass for a principal. listClients failure
// aborts the run; allowedMethods failures are isolated per subsystem, so one
// unreliable remote cannot block the rest of the catalog.
func (r *Refresher) Refresh(ctx context.Context, principal model.PrincipalRef) (Result, error) {
	config, err := r.store.FindPrincipalConfig(ctx, principal)
	if err != nil {
		if errors.Is(err, catalog.ErrRecordNotFound) {
			return Result{}, ErrIncompleteProfile
		}
		return Result{}, err
	}
	if !config.Complete() {
		return Result{}, ErrIncompleteProfile
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if err := r.store.DeleteCatalog(ctx, principal); err != nil {
		return Result{}, fmt.Errorf("failed resetting catalog: %w", err)
	}

	subsystems, err := r.client.ListClients(ctx, principal, config)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrListClients, err.Error())
	}

	var result Result
	for _, subsystem := range subsystems {
		routeVersion, found, err := r.client.DetectRouteVersion(ctx, principal, config, subsystem.ClientID)
		if err != nil {
			return result, err
		}

		provider, err := r.upsertProvider(ctx, principal, routeVersion, subsystem)
		if err != nil {
			return result, err
		}
		result.Discovered++

		if !found {
			// The provider stays visible in the catalog so its absence of
			// services shows up in the UI.
			continue
		}

		saved, err := r.persistServices(ctx, principal, config, provider, subsystem.ClientID)
		if err != nil {
			r.logger.Warn("allowedMethods fetch failed for subsystem",
				zap.String("principal", string(principal)),
				zap.String("subsystem", subsystem.ClientID.Header()),
				zap.Error(err))
			continue
		}
		if saved > 0 {
			result.WithServices++
		}
	}
	return result, nil
}

// upsertProvider finds or creates the provider row for a subsystem under the
// detected route version, refreshing the display name on an existing row.
func (r *Refresher) upsertProvider(ctx context.Context, principal model.PrincipalRef, routeVersion string, subsystem Subsystem) (model.Provider, error) {
	existing, err := r.store.FindProviders(ctx, catalog.ProviderFilter{
		Principal:    principal,
		RouteVersion: &routeVersion,
		Client:       &subsystem.ClientID,
	})
	if err != nil {
		return model.Provider{}, err
	}

	display := subsystem.DisplayName
	if display == "" {
		display = fmt.Sprintf("%s / %s / %s / %s",
			subsystem.XRoadInstance, subsystem.MemberClass, subsystem.MemberCode, subsystem.SubsystemCode)
	}

	provider := model.Provider{
		Principal:    principal,
		ClientID:     subsystem.ClientID,
		RouteVersion: routeVersion,
		DisplayName:  display,
	}
	if len(existing) > 0 {
		provider.ID = existing[0].ID
		provider.HasServices = existing[0].HasServices
	}
	return r.store.UpsertProvider(ctx, provider)
}

// persistServices fetches allowedMethods and stores the service/endpoint
// graph under the provider, returning the number of endpoints saved. The
// HasServices flag follows that count.
func (r *Refresher) persistServices(ctx context.Context, principal model.PrincipalRef, config model.PrincipalConfig, provider model.Provider, subsystem model.ClientID) (int, error) {
	descriptors, err := r.client.FetchAllowedMethods(ctx, principal, config, provider.RouteVersion, subsystem)
	if err != nil {
		provider.HasServices = false
		if _, storeErr := r.store.UpsertProvider(ctx, provider); storeErr != nil {
			return 0, storeErr
		}
		return 0, err
	}

	saved := 0
	for _, descriptor := range descriptors {
		if descriptor.ServiceCode == "" {
			continue
		}

		service, err := r.findOrCreateService(ctx, principal, provider.ID, descriptor)
		if err != nil {
			return saved, err
		}

		for _, ep := range descriptor.EndpointList {
			// Wildcard endpoints are unsupported: the file identity model
			// needs concrete filenames.
			if strings.Contains(ep.Path, "*") {
				continue
			}
			if err := r.findOrCreateEndpoint(ctx, principal, service.ID, ep); err != nil {
				return saved, err
			}
			saved++
		}
	}

	provider.HasServices = saved > 0
	if _, err := r.store.UpsertProvider(ctx, provider); err != nil {
		return saved, err
	}
	return saved, nil
}

func (r *Refresher) findOrCreateService(ctx context.Context, principal model.PrincipalRef, providerID string, descriptor ServiceDescriptor) (model.Service, error) {
	existing, err := r.store.FindServices(ctx, catalog.ServiceFilter{
		Principal:   principal,
		ProviderID:  providerID,
		ServiceCode: descriptor.ServiceCode,
	})
	if err != nil {
		return model.Service{}, err
	}

	service := model.Service{
		Principal:      principal,
		ProviderID:     providerID,
		ServiceCode:    descriptor.ServiceCode,
		ServiceVersion: descriptor.ServiceVersion,
		ServiceType:    descriptor.ServiceType,
	}
	if len(existing) > 0 {
		service.ID = existing[0].ID
		if service.ServiceVersion == "" {
			service.ServiceVersion = existing[0].ServiceVersion
		}
		if service.ServiceType == "" {
			service.ServiceType = existing[0].ServiceType
		}
	}
	return r.store.UpsertService(ctx, service)
}

func (r *Refresher) findOrCreateEndpoint(ctx context.Context, principal model.PrincipalRef, serviceID string, descriptor EndpointDescriptor) error {
	method := strings.ToUpper(descriptor.Method)
	if method == "" {
		method = "GET"
	}
	path := descriptor.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	existing, err := r.store.FindEndpoints(ctx, catalog.EndpointFilter{
		Principal: principal,
		ServiceID: serviceID,
		Method:    method,
		Path:      path,
	})
	if err != nil {
		return err
	}

	endpoint := model.Endpoint{
		Principal: principal,
		ServiceID: serviceID,
		Method:    method,
		Path:      path,
	}
	if len(existing) > 0 {
		endpoint.ID = existing[0].ID
	}
	_, err = r.store.UpsertEndpoint(ctx, endpoint)
	return err
}
