// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/exedra-dev/xrgate/auth"
	"github.com/exedra-dev/xrgate/catalog"
	"github.com/exedra-dev/xrgate/gateway"
	"github.com/exedra-dev/xrgate/model"
	kithttp "github.com/go-kit/kit/transport/http"
)

var errNoPrincipal = errors.New("no principal in request context")

type refreshResponse struct {
	Discovered   int `json:"discovered"`
	WithServices int `json:"withServices"`
}

type providerEntry struct {
	ID            string `json:"id"`
	XRoadInstance string `json:"xroadInstance"`
	MemberClass   string `json:"memberClass"`
	MemberCode    string `json:"memberCode"`
	SubsystemCode string `json:"subsystemCode"`
	RouteVersion  string `json:"routeVersion"`
	DisplayName   string `json:"displayName"`
	HasServices   bool   `json:"hasServices"`
}

// NewRefreshHandler serves on-demand catalog refreshes for the calling
// principal and reports the discovery counts.
func NewRefreshHandler(refresher *Refresher) http.Handler {
	return kithttp.NewServer(
		func(ctx context.Context, request interface{}) (interface{}, error) {
			result, err := refresher.Refresh(ctx, request.(model.PrincipalRef))
			if err != nil {
				return nil, err
			}
			return refreshResponse{Discovered: result.Discovered, WithServices: result.WithServices}, nil
		},
		decodePrincipalOnlyRequest,
		encodeJSONResponse,
		kithttp.ServerErrorEncoder(encodeError),
	)
}

// NewProvidersHandler lists the calling principal's discovered providers.
func NewProvidersHandler(store catalog.Store) http.Handler {
	return kithttp.NewServer(
		func(ctx context.Context, request interface{}) (interface{}, error) {
			providers, err := store.FindProviders(ctx, catalog.ProviderFilter{Principal: request.(model.PrincipalRef)})
			if err != nil {
				return nil, err
			}
			entries := make([]providerEntry, 0, len(providers))
			for _, p := range providers {
				entries = append(entries, providerEntry{
					ID:            p.ID,
					XRoadInstance: p.XRoadInstance,
					MemberClass:   p.MemberClass,
					MemberCode:    p.MemberCode,
					SubsystemCode: p.SubsystemCode,
					RouteVersion:  p.RouteVersion,
					DisplayName:   p.DisplayName,
					HasServices:   p.HasServices,
				})
			}
			return entries, nil
		},
		decodePrincipalOnlyRequest,
		encodeJSONResponse,
		kithttp.ServerErrorEncoder(encodeError),
	)
}

func decodePrincipalOnlyRequest(ctx context.Context, _ *http.Request) (interface{}, error) {
	principal, ok := auth.Principal(ctx)
	if !ok {
		return nil, errNoPrincipal
	}
	return principal, nil
}

func encodeJSONResponse(_ context.Context, w http.ResponseWriter, response interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(response)
}

// encodeError maps the discovery sentinels before falling back to the shared
// StatusCoder mapping.
func encodeError(ctx context.Context, err error, w http.ResponseWriter) {
	switch {
	case errors.Is(err, ErrIncompleteProfile):
		w.Header().Set(gateway.ErrorHeaderKey, err.Error())
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()}) // nolint:errcheck
	case errors.Is(err, ErrListClients):
		w.Header().Set(gateway.ErrorHeaderKey, err.Error())
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()}) // nolint:errcheck
	case errors.Is(err, errNoPrincipal):
		w.Header().Set(gateway.ErrorHeaderKey, err.Error())
		w.WriteHeader(http.StatusUnauthorized)
	default:
		gateway.EncodeError(ctx, err, w)
	}
}
