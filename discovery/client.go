// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/exedra-dev/xrgate/gateway"
	"github.com/exedra-dev/xrgate/identity"
	"github.com/exedra-dev/xrgate/model"
	"github.com/xmidt-org/sallust"
	"go.uber.org/zap"
)

// ConsumerHeader identifies the calling party on every security server
// request.
const ConsumerHeader = "X-Road-Client"

// routeVersions are probed in order; the empty version (no path segment)
// goes last.
var routeVersions = []string{"r1", "r2", "r3", ""}

var (
	errNewRequestFailure  = errors.New("failed creating an HTTP request")
	errDoRequestFailure   = errors.New("http client failed while sending request")
	errReadingBodyFailure = errors.New("failed while reading http response body")
	errNonSuccessResponse = errors.New("security server responded with a non-success status code")
	errNonJSONResponse    = errors.New("security server responded with a non-JSON body")
)

// IdentityProvider hands out the mTLS identity for a principal.
type IdentityProvider interface {
	GetIdentity(ctx context.Context, principal model.PrincipalRef) (*identity.Identity, error)
}

// ServerClient speaks the X-Road REST metaservice conventions against one
// security server per call: listClients, route-version probing and
// allowedMethods.
type ServerClient struct {
	identities IdentityProvider
	plain      *http.Client
	logger     *zap.Logger
}

// NewServerClient builds a metaservice client. The plain client is used for
// the anonymous listClients attempt; everything else runs over the mTLS
// identity.
func NewServerClient(identities IdentityProvider, config identity.Config, logger *zap.Logger) *ServerClient {
	if logger == nil {
		logger = sallust.Default()
	}
	return &ServerClient{
		identities: identities,
		plain:      identity.NewPlainClient(config),
		logger:     logger,
	}
}

type response struct {
	Code int
	Body []byte
}

func (c *ServerClient) send(ctx context.Context, client *http.Client, url, consumer string) (response, error) {
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return response{}, fmt.Errorf("%w: %s", errNewRequestFailure, err.Error())
	}
	r.Header.Set(ConsumerHeader, consumer)
	r.Header.Set("Accept", "application/json")

	resp, err := client.Do(r)
	if err != nil {
		return response{}, fmt.Errorf("%w: %s", errDoRequestFailure, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{Code: resp.StatusCode}, fmt.Errorf("%w: %s", errReadingBodyFailure, err.Error())
	}
	return response{Code: resp.StatusCode, Body: body}, nil
}

// ListClients enumerates the remote subsystems visible to the principal.
// The call is attempted anonymously first; on any transport failure it is
// retried once with the mTLS identity, since some deployments require a
// client certificate even here. Failure is fatal to the whole refresh.
func (c *ServerClient) ListClients(ctx context.Context, principal model.PrincipalRef, config model.PrincipalConfig) ([]Subsystem, error) {
	url := gateway.JoinURL(config.BaseURL, "listClients")
	consumer := config.Client.Header()

	resp, err := c.send(ctx, c.plain, url, consumer)
	if err != nil {
		ident, identityErr := c.identities.GetIdentity(ctx, principal)
		if identityErr != nil {
			return nil, fmt.Errorf("listClients failed anonymously (%s) and no mTLS identity available: %w", err, identityErr)
		}
		c.logger.Debug("anonymous listClients failed, retrying with mTLS",
			zap.String("principal", string(principal)), zap.Error(err))
		resp, err = c.send(ctx, ident.HTTP, url, consumer)
		if err != nil {
			return nil, err
		}
	}

	if resp.Code < 200 || resp.Code >= 300 {
		return nil, fmt.Errorf("%w: listClients received status %d: %s",
			errNonSuccessResponse, resp.Code, truncate(resp.Body))
	}

	var list clientListResponse
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return nil, fmt.Errorf("%w: listClients: %s", errNonJSONResponse, err.Error())
	}
	return list.subsystems(), nil
}

// DetectRouteVersion probes allowedMethods path templates for a subsystem
// and returns the first route version answering 2xx with a JSON object. The
// second return is false when no candidate worked; the provider is then
// recorded without services. Probes always carry the mTLS identity.
func (c *ServerClient) DetectRouteVersion(ctx context.Context, principal model.PrincipalRef, config model.PrincipalConfig, subsystem model.ClientID) (string, bool, error) {
	ident, err := c.identities.GetIdentity(ctx, principal)
	if err != nil {
		return "", false, err
	}

	consumer := config.Client.Header()
	for _, rv := range routeVersions {
		resp, err := c.send(ctx, ident.HTTP, allowedMethodsURL(config.BaseURL, rv, subsystem), consumer)
		if err != nil {
			continue
		}
		if resp.Code < 200 || resp.Code >= 300 {
			continue
		}
		var probe map[string]json.RawMessage
		if json.Unmarshal(resp.Body, &probe) != nil {
			continue
		}
		return rv, true, nil
	}
	return "", false, nil
}

// FetchAllowedMethods retrieves and normalizes the service catalog of a
// subsystem under an already-detected route version.
func (c *ServerClient) FetchAllowedMethods(ctx context.Context, principal model.PrincipalRef, config model.PrincipalConfig, routeVersion string, subsystem model.ClientID) ([]ServiceDescriptor, error) {
	ident, err := c.identities.GetIdentity(ctx, principal)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, ident.HTTP, allowedMethodsURL(config.BaseURL, routeVersion, subsystem), config.Client.Header())
	if err != nil {
		return nil, err
	}
	if resp.Code < 200 || resp.Code >= 300 {
		return nil, fmt.Errorf("%w: allowedMethods received status %d: %s",
			errNonSuccessResponse, resp.Code, truncate(resp.Body))
	}

	var payload allowedMethodsResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: allowedMethods: %s", errNonJSONResponse, err.Error())
	}
	return payload.Service, nil
}

func allowedMethodsURL(baseURL, routeVersion string, subsystem model.ClientID) string {
	return gateway.JoinURL(baseURL, routeVersion,
		subsystem.XRoadInstance, subsystem.MemberClass, subsystem.MemberCode, subsystem.SubsystemCode,
		"allowedMethods")
}

// truncate bounds response bodies quoted in errors and logs.
func truncate(body []byte) string {
	const max = 300
	if len(body) > max {
		body = body[:max]
	}
	return string(body)
}
