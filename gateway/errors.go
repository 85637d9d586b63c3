// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrProfileIncomplete means the calling principal's X-Road profile is
// missing fields needed to stamp the consumer header.
var ErrProfileIncomplete = errors.New("x-road profile incomplete for principal")

// NotFoundError covers both a genuinely missing record and a record owned by
// someone else: ownership failures are indistinguishable from absence on
// purpose.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found for principal", e.Kind, e.ID)
}

func (e NotFoundError) StatusCode() int {
	return http.StatusNotFound
}

// ForbiddenError means the authorization oracle denied the call.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string {
	return "forbidden: " + e.Reason
}

func (e ForbiddenError) StatusCode() int {
	return http.StatusForbidden
}

// UnexpectedContentTypeError is returned by JSON-mode invocations when the
// downstream answered with a non-JSON body. The caller should re-invoke in
// stream mode instead of having binary coerced into a JSON envelope.
type UnexpectedContentTypeError struct {
	ContentType string
}

func (e UnexpectedContentTypeError) Error() string {
	return fmt.Sprintf("downstream answered with content-type %q, re-invoke in stream mode", e.ContentType)
}

func (e UnexpectedContentTypeError) StatusCode() int {
	return http.StatusBadGateway
}

// UpstreamError carries a non-2xx downstream response through to the caller.
// The real remote status is preserved because 403-from-the-security-server
// and 404-no-such-service are operationally different things; nothing is
// flattened into a generic 500.
type UpstreamError struct {
	Status int
	Body   []byte
}

func (e UpstreamError) Error() string {
	return fmt.Sprintf("downstream responded %d: %s", e.Status, string(e.Body))
}

func (e UpstreamError) StatusCode() int {
	return e.Status
}
