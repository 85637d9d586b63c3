// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

// Package gateway relays authenticated calls to downstream X-Road services,
// either as parsed JSON payloads or as raw byte streams.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/exedra-dev/xrgate/auth"
	"github.com/exedra-dev/xrgate/catalog"
	"github.com/exedra-dev/xrgate/identity"
	"github.com/exedra-dev/xrgate/model"
	"github.com/xmidt-org/sallust"
	"go.uber.org/zap"
)

// Mode selects how the downstream response is relayed.
type Mode string

const (
	// ModeJSON parses the downstream body and passes it through verbatim.
	ModeJSON Mode = "json"
	// ModeStream forwards the raw byte stream with content-type passthrough.
	ModeStream Mode = "stream"
)

// maxErrorBody bounds how much of a failed downstream body is kept for the
// error and the audit log.
const maxErrorBody = 512

// IdentityProvider hands out the mTLS identity for a principal.
type IdentityProvider interface {
	GetIdentity(ctx context.Context, principal model.PrincipalRef) (*identity.Identity, error)
}

// Target names what to invoke. Owner defaults to the caller; setting it to
// another principal serves that principal's catalog, subject to the
// authorization oracle. Either EndpointID or PathOverride must be set.
type Target struct {
	Owner        model.PrincipalRef `json:"owner,omitempty"`
	ProviderID   string             `json:"providerId"`
	ServiceID    string             `json:"serviceId"`
	EndpointID   string             `json:"endpointId,omitempty"`
	PathOverride string             `json:"path,omitempty"`
	Method       string             `json:"method,omitempty"`
	Filename     string             `json:"filename,omitempty"`
	Query        url.Values         `json:"query,omitempty"`
	Body         []byte             `json:"body,omitempty"`

	// Download switches the stream disposition from inline preview to
	// attachment, and requires the download permission.
	Download bool `json:"download,omitempty"`
}

// Result is a relayed downstream response. JSON is set in ModeJSON; Body is
// set in ModeStream and must be closed by the caller.
type Result struct {
	Status      int
	ContentType string
	Disposition string
	JSON        json.RawMessage
	Body        io.ReadCloser
}

// Gateway resolves stored catalog references, attaches the caller's mTLS
// identity and consumer header, and performs the downstream call.
type Gateway struct {
	store      catalog.Store
	identities IdentityProvider
	oracle     auth.Oracle
	logger     *zap.Logger
}

func New(store catalog.Store, identities IdentityProvider, oracle auth.Oracle, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = sallust.Default()
	}
	return &Gateway{store: store, identities: identities, oracle: oracle, logger: logger}
}

// Invoke performs one downstream call on behalf of caller. The consumer
// header always carries the caller's own client identity, never the target
// provider's.
func (g *Gateway) Invoke(ctx context.Context, caller model.PrincipalRef, target Target, mode Mode) (*Result, error) {
	owner := target.Owner
	if owner == "" {
		owner = caller
	}

	provider, service, path, method, err := g.resolve(ctx, owner, target)
	if err != nil {
		return nil, err
	}

	filename := target.Filename
	if filename == "" {
		filename = lastSegment(path)
	}
	if err := g.authorize(ctx, caller, owner, provider.ID, service.ID, filename, target.Download); err != nil {
		return nil, err
	}

	callerConfig, err := g.store.FindPrincipalConfig(ctx, caller)
	if err != nil {
		if errors.Is(err, catalog.ErrRecordNotFound) {
			return nil, ErrProfileIncomplete
		}
		return nil, err
	}
	if !callerConfig.Complete() {
		return nil, ErrProfileIncomplete
	}

	finalURL := JoinURL(
		strings.TrimRight(callerConfig.BaseURL, "/"),
		provider.RouteVersion,
		provider.XRoadInstance, provider.MemberClass, provider.MemberCode, provider.SubsystemCode,
		service.ServiceCode,
	) + EnsureLeadingSlash(path)
	if len(target.Query) > 0 {
		finalURL += "?" + target.Query.Encode()
	}

	ident, err := g.identities.GetIdentity(ctx, caller)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if len(target.Body) > 0 {
		body = bytes.NewReader(target.Body)
	}
	request, err := http.NewRequestWithContext(ctx, method, finalURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed creating downstream request: %w", err)
	}
	request.Header.Set("X-Road-Client", callerConfig.Client.Header())
	request.Header.Set("Accept", "*/*")
	if len(target.Body) > 0 {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := ident.HTTP.Do(request)
	if err != nil {
		return nil, fmt.Errorf("downstream call failed: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		defer response.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
		g.logger.Warn("downstream returned non-success status",
			zap.String("principal", string(caller)),
			zap.String("url", finalURL),
			zap.Int("status", response.StatusCode),
			zap.ByteString("body", snippet))
		return nil, UpstreamError{Status: response.StatusCode, Body: snippet}
	}

	switch mode {
	case ModeStream:
		return g.streamResult(response, filename, target.Download), nil
	default:
		return g.jsonResult(response)
	}
}

// resolve loads the provider/service/endpoint chain, verifying ownership at
// every hop. Missing and not-owned come out identical.
func (g *Gateway) resolve(ctx context.Context, owner model.PrincipalRef, target Target) (model.Provider, model.Service, string, string, error) {
	providers, err := g.store.FindProviders(ctx, catalog.ProviderFilter{Principal: owner, ID: target.ProviderID})
	if err != nil {
		return model.Provider{}, model.Service{}, "", "", err
	}
	if len(providers) == 0 {
		return model.Provider{}, model.Service{}, "", "", NotFoundError{Kind: "provider", ID: target.ProviderID}
	}
	provider := providers[0]

	services, err := g.store.FindServices(ctx, catalog.ServiceFilter{Principal: owner, ID: target.ServiceID, ProviderID: provider.ID})
	if err != nil {
		return model.Provider{}, model.Service{}, "", "", err
	}
	if len(services) == 0 {
		return model.Provider{}, model.Service{}, "", "", NotFoundError{Kind: "service", ID: target.ServiceID}
	}
	service := services[0]

	path := target.PathOverride
	method := target.Method
	if target.EndpointID != "" {
		endpoints, err := g.store.FindEndpoints(ctx, catalog.EndpointFilter{Principal: owner, ID: target.EndpointID, ServiceID: service.ID})
		if err != nil {
			return model.Provider{}, model.Service{}, "", "", err
		}
		if len(endpoints) == 0 {
			return model.Provider{}, model.Service{}, "", "", NotFoundError{Kind: "endpoint", ID: target.EndpointID}
		}
		if path == "" {
			path = endpoints[0].Path
		}
		if method == "" {
			method = endpoints[0].Method
		}
	}
	if path == "" {
		return model.Provider{}, model.Service{}, "", "", NotFoundError{Kind: "endpoint", ID: "(no endpoint or path given)"}
	}
	if method == "" {
		method = http.MethodGet
	}
	return provider, service, path, strings.ToUpper(method), nil
}

// authorize consults the oracle when serving someone else's catalog. Owners
// always pass for their own rows; the resolve step already pinned ownership.
func (g *Gateway) authorize(ctx context.Context, caller, owner model.PrincipalRef, providerID, serviceID, filename string, download bool) error {
	if caller == owner {
		return nil
	}

	ok, err := g.oracle.CanViewProvider(ctx, caller, providerID)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Reason: "provider not visible"}
	}

	ok, err = g.oracle.CanViewService(ctx, caller, providerID, serviceID)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Reason: "service not visible"}
	}

	if download {
		ok, err = g.oracle.CanDownloadService(ctx, caller, providerID, serviceID)
		if err != nil {
			return err
		}
		if !ok {
			return ForbiddenError{Reason: "service not downloadable"}
		}
		ok, err = g.oracle.CanDownloadFile(ctx, caller, serviceID, filename)
	} else {
		ok, err = g.oracle.CanViewFile(ctx, caller, serviceID, filename)
	}
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Reason: "file not permitted"}
	}
	return nil
}

func (g *Gateway) jsonResult(response *http.Response) (*Result, error) {
	defer response.Body.Close()

	contentType := response.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "json") {
		io.Copy(io.Discard, io.LimitReader(response.Body, maxErrorBody)) // nolint:errcheck
		return nil, UnexpectedContentTypeError{ContentType: contentType}
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed reading downstream body: %w", err)
	}
	if !json.Valid(body) {
		return nil, UnexpectedContentTypeError{ContentType: contentType}
	}
	return &Result{
		Status:      response.StatusCode,
		ContentType: contentType,
		JSON:        json.RawMessage(body),
	}, nil
}

func (g *Gateway) streamResult(response *http.Response, fallbackName string, download bool) *Result {
	kind := "inline"
	if download {
		kind = "attachment"
	}

	filename := fallbackName
	if disposition := response.Header.Get("Content-Disposition"); disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
			filename = params["filename"]
		}
	}

	result := &Result{
		Status:      response.StatusCode,
		ContentType: response.Header.Get("Content-Type"),
		Disposition: kind,
		Body:        response.Body,
	}
	if filename != "" {
		result.Disposition = fmt.Sprintf("%s; filename=%q", kind, filename)
	}
	return result
}

func lastSegment(path string) string {
	trimmed := strings.TrimRight(path, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
