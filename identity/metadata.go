// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/sha256"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// Metadata is the human-readable face of an uploaded certificate, extracted
// once at upload time and persisted on the record for display and audit.
type Metadata struct {
	Fingerprint string    `json:"fingerprint"`
	Subject     string    `json:"subject"`
	NotBefore   time.Time `json:"notBefore"`
	NotAfter    time.Time `json:"notAfter"`
}

// ExtractMetadata reads the leaf certificate out of a PKCS#12 archive. It is
// a pure read, independent of the cache, and doubles as the upload-time
// validation of the archive+passphrase pair.
func ExtractMetadata(archive []byte, passphrase string) (Metadata, error) {
	_, leaf, _, err := pkcs12.DecodeChain(archive, passphrase)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %s", ErrInvalidCredential, err)
	}

	sum := sha256.Sum256(leaf.RawSubjectPublicKeyInfo)
	return Metadata{
		Fingerprint: strings.ToUpper(hex.EncodeToString(sum[:])),
		Subject:     subjectString(leaf.Subject),
		NotBefore:   leaf.NotBefore,
		NotAfter:    leaf.NotAfter,
	}, nil
}

// shortNames maps the attribute OIDs the portal displays. Anything else is
// rendered by its dotted OID.
var shortNames = map[string]string{
	"2.5.4.3":  "CN",
	"2.5.4.5":  "SERIALNUMBER",
	"2.5.4.6":  "C",
	"2.5.4.7":  "L",
	"2.5.4.8":  "ST",
	"2.5.4.9":  "STREET",
	"2.5.4.10": "O",
	"2.5.4.11": "OU",
}

func subjectString(name pkix.Name) string {
	parts := make([]string, 0, len(name.Names))
	for _, attr := range name.Names {
		parts = append(parts, fmt.Sprintf("%s=%v", attributeName(attr.Type), attr.Value))
	}
	return strings.Join(parts, ", ")
}

func attributeName(oid asn1.ObjectIdentifier) string {
	if short, ok := shortNames[oid.String()]; ok {
		return short
	}
	return oid.String()
}
