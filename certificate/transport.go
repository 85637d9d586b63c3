// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package certificate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/exedra-dev/xrgate/auth"
	"github.com/exedra-dev/xrgate/gateway"
	"github.com/exedra-dev/xrgate/model"
	kithttp "github.com/go-kit/kit/transport/http"
)

// maxArchiveBytes bounds the multipart upload; PKCS#12 bundles are small.
const maxArchiveBytes = 1 << 20

var errNoPrincipal = errors.New("no principal in request context")

type uploadRequest struct {
	principal  model.PrincipalRef
	archive    []byte
	passphrase string
	label      string
}

// NewUploadHandler accepts a multipart form with an archive file part and a
// passphrase field, and replaces the caller's stored certificate.
func NewUploadHandler(manager *Manager) http.Handler {
	return kithttp.NewServer(
		func(ctx context.Context, request interface{}) (interface{}, error) {
			upload := request.(*uploadRequest)
			return manager.Upload(ctx, upload.principal, upload.archive, upload.passphrase, upload.label)
		},
		decodeUploadRequest,
		encodeJSONResponse,
		kithttp.ServerErrorEncoder(encodeError),
	)
}

// NewDescribeHandler returns metadata for the caller's stored certificate.
func NewDescribeHandler(manager *Manager) http.Handler {
	return kithttp.NewServer(
		func(ctx context.Context, request interface{}) (interface{}, error) {
			return manager.Describe(ctx, request.(model.PrincipalRef))
		},
		decodePrincipalOnlyRequest,
		encodeJSONResponse,
		kithttp.ServerErrorEncoder(encodeError),
	)
}

// NewDeleteHandler removes the caller's stored certificate.
func NewDeleteHandler(manager *Manager) http.Handler {
	return kithttp.NewServer(
		func(ctx context.Context, request interface{}) (interface{}, error) {
			return nil, manager.Delete(ctx, request.(model.PrincipalRef))
		},
		decodePrincipalOnlyRequest,
		encodeNoContentResponse,
		kithttp.ServerErrorEncoder(encodeError),
	)
}

func decodeUploadRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	principal, ok := auth.Principal(ctx)
	if !ok {
		return nil, errNoPrincipal
	}

	if err := r.ParseMultipartForm(maxArchiveBytes); err != nil {
		return nil, gateway.BadRequestError{Reason: "failed to parse multipart form"}
	}
	file, _, err := r.FormFile("archive")
	if err != nil {
		return nil, gateway.BadRequestError{Reason: "archive file part missing"}
	}
	defer file.Close()

	archive, err := io.ReadAll(io.LimitReader(file, maxArchiveBytes))
	if err != nil {
		return nil, gateway.BadRequestError{Reason: "failed to read archive part"}
	}
	if len(archive) == 0 {
		return nil, gateway.BadRequestError{Reason: "archive part is empty"}
	}

	return &uploadRequest{
		principal:  principal,
		archive:    archive,
		passphrase: r.FormValue("passphrase"),
		label:      r.FormValue("label"),
	}, nil
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

func encodeNoContentResponse(_ context.Context, w http.ResponseWriter, _ interface{}) error {
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func encodeError(ctx context.Context, err error, w http.ResponseWriter) {
	if errors.Is(err, errNoPrincipal) {
		w.Header().Set(gateway.ErrorHeaderKey, err.Error())
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	gateway.EncodeError(ctx, err, w)
}
