// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRecordNotFound is returned by every Find operation that matches
// nothing. Backends wrap it so callers can errors.Is against it regardless
// of the driver.
var ErrRecordNotFound = errors.New("record not found")

// RecordNotFoundError carries what was being looked up.
type RecordNotFoundError struct {
	Kind string
	Key  string
}

func (e RecordNotFoundError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Kind, e.Key, ErrRecordNotFound)
}

func (e RecordNotFoundError) Unwrap() error {
	return ErrRecordNotFound
}

func (e RecordNotFoundError) StatusCode() int {
	return http.StatusNotFound
}
