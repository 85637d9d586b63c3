// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/exedra-dev/xrgate/auth"
	"github.com/exedra-dev/xrgate/identity"
	"github.com/exedra-dev/xrgate/model"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/spf13/cast"
)

// ErrorHeaderKey carries the error message alongside the mapped status code.
const ErrorHeaderKey = "X-Xrgate-Error"

var errNoPrincipal = errors.New("no principal in request context")

type invocation struct {
	caller model.PrincipalRef
	target Target
	mode   Mode
}

// NewInvokeHandler serves JSON-mode invocations: the target arrives as a JSON
// body and the downstream JSON payload is passed through verbatim.
func NewInvokeHandler(g *Gateway) http.Handler {
	return kithttp.NewServer(
		newInvokeEndpoint(g),
		decodeInvokeRequest,
		encodeInvokeResponse,
		kithttp.ServerErrorEncoder(EncodeError),
	)
}

// NewStreamInvokeHandler serves stream-mode invocations addressed by query
// parameters, relaying the downstream bytes with content-type passthrough.
func NewStreamInvokeHandler(g *Gateway) http.Handler {
	return kithttp.NewServer(
		newInvokeEndpoint(g),
		decodeStreamInvokeRequest,
		encodeInvokeResponse,
		kithttp.ServerErrorEncoder(EncodeError),
	)
}

func newInvokeEndpoint(g *Gateway) func(ctx context.Context, request interface{}) (interface{}, error) {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		call := request.(*invocation)
		return g.Invoke(ctx, call.caller, call.target, call.mode)
	}
}

func decodeInvokeRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	caller, ok := auth.Principal(ctx)
	if !ok {
		return nil, errNoPrincipal
	}

	var target Target
	if err := json.NewDecoder(r.Body).Decode(&target); err != nil {
		return nil, BadRequestError{Reason: "failed to unmarshal json body"}
	}
	return &invocation{caller: caller, target: target, mode: ModeJSON}, nil
}

func decodeStreamInvokeRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	caller, ok := auth.Principal(ctx)
	if !ok {
		return nil, errNoPrincipal
	}

	query := r.URL.Query()
	target := Target{
		Owner:        model.PrincipalRef(query.Get("owner")),
		ProviderID:   query.Get("provider"),
		ServiceID:    query.Get("service"),
		EndpointID:   query.Get("endpoint"),
		PathOverride: query.Get("path"),
		Method:       query.Get("method"),
		Filename:     query.Get("filename"),
		Download:     cast.ToBool(query.Get("download")),
	}
	// Everything not addressed to the gateway itself is forwarded downstream.
	for _, reserved := range []string{"owner", "provider", "service", "endpoint", "path", "method", "filename", "download"} {
		query.Del(reserved)
	}
	if len(query) > 0 {
		target.Query = url.Values(query)
	}
	return &invocation{caller: caller, target: target, mode: ModeStream}, nil
}

func encodeInvokeResponse(_ context.Context, w http.ResponseWriter, response interface{}) error {
	result := response.(*Result)
	if result.Body != nil {
		defer result.Body.Close()
		if result.ContentType != "" {
			w.Header().Set("Content-Type", result.ContentType)
		}
		if result.Disposition != "" {
			w.Header().Set("Content-Disposition", result.Disposition)
		}
		w.WriteHeader(result.Status)
		_, err := io.Copy(w, result.Body)
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.Status)
	_, err := w.Write(result.JSON)
	return err
}

// EncodeError maps domain errors onto status codes through the StatusCoder
// convention, with sentinel errors that carry no code mapped explicitly.
// Nothing falls through to a blind 500 except genuinely unknown failures.
func EncodeError(_ context.Context, err error, w http.ResponseWriter) {
	w.Header().Set(ErrorHeaderKey, err.Error())

	code := http.StatusInternalServerError
	var sc kithttp.StatusCoder
	switch {
	case errors.As(err, &sc):
		code = sc.StatusCode()
	case errors.Is(err, ErrProfileIncomplete):
		code = http.StatusBadRequest
	case errors.Is(err, identity.ErrNotConfigured):
		code = http.StatusConflict
	case errors.Is(err, identity.ErrInvalidCredential):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, errNoPrincipal):
		code = http.StatusUnauthorized
	}
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()}) // nolint:errcheck
}

// BadRequestError covers malformed request payloads.
type BadRequestError struct {
	Reason string
}

func (e BadRequestError) Error() string {
	return "bad request: " + e.Reason
}

func (e BadRequestError) StatusCode() int {
	return http.StatusBadRequest
}
