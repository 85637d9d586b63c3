// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"fmt"
	"time"
)

// PrincipalRef identifies the owner of an X-Road client configuration. A
// tenant in single-tenant deployments is just a principal with a fixed ref.
type PrincipalRef string

// Singleton is the principal ref used by single-tenant installations.
const Singleton PrincipalRef = "singleton"

// ClientID is the four-part X-Road addressing tuple for a subsystem.
type ClientID struct {
	XRoadInstance string `json:"xRoadInstance"`
	MemberClass   string `json:"memberClass"`
	MemberCode    string `json:"memberCode"`
	SubsystemCode string `json:"subsystemCode"`
}

// Header renders the tuple in the wire format mandated for the
// X-Road-Client request header.
func (c ClientID) Header() string {
	return fmt.Sprintf("%s/%s/%s/%s", c.XRoadInstance, c.MemberClass, c.MemberCode, c.SubsystemCode)
}

// Complete reports whether every part of the tuple is set.
func (c ClientID) Complete() bool {
	return c.XRoadInstance != "" && c.MemberClass != "" && c.MemberCode != "" && c.SubsystemCode != ""
}

// PrincipalConfig is a principal's security server profile. All fields must be
// set before any discovery or proxy call is attempted on its behalf.
type PrincipalConfig struct {
	Principal PrincipalRef `json:"principal"`
	BaseURL   string       `json:"baseUrl"`
	Client    ClientID     `json:"client"`
}

// Complete reports whether the profile can be used for outbound calls.
func (p PrincipalConfig) Complete() bool {
	return p.BaseURL != "" && p.Client.Complete()
}

// SealedBlob is an AES-GCM protected byte string, stored with its IV and
// authentication tag split out the way the portal schema keeps them.
type SealedBlob struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	AuthTag    []byte `json:"authTag"`
}

// CertificateRecord is the single live piece of encrypted client certificate
// material owned by a principal. Replacing it fully supersedes the previous
// material and invalidates any cached identity built from it.
type CertificateRecord struct {
	Principal  PrincipalRef `json:"principal"`
	Label      string       `json:"label"`
	Archive    SealedBlob   `json:"archive"`
	Passphrase SealedBlob   `json:"passphrase"`

	// Display metadata, extracted once at upload time.
	Fingerprint string    `json:"fingerprint"`
	Subject     string    `json:"subject"`
	NotBefore   time.Time `json:"notBefore"`
	NotAfter    time.Time `json:"notAfter"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Provider is a remote subsystem discovered through listClients.
type Provider struct {
	ID        string       `json:"id"`
	Principal PrincipalRef `json:"principal"`
	ClientID

	// RouteVersion is the URL path convention the provider answered
	// allowedMethods under: "r1", "r2", "r3" or "" for unversioned paths.
	RouteVersion string    `json:"routeVersion"`
	DisplayName  string    `json:"displayName"`
	HasServices  bool      `json:"hasServices"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Service belongs to exactly one Provider.
type Service struct {
	ID             string       `json:"id"`
	Principal      PrincipalRef `json:"principal"`
	ProviderID     string       `json:"providerId"`
	ServiceCode    string       `json:"serviceCode"`
	ServiceVersion string       `json:"serviceVersion,omitempty"`
	ServiceType    string       `json:"serviceType,omitempty"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// Endpoint belongs to exactly one Service. Path always starts with a slash
// and never contains a wildcard.
type Endpoint struct {
	ID        string       `json:"id"`
	Principal PrincipalRef `json:"principal"`
	ServiceID string       `json:"serviceId"`
	Method    string       `json:"method"`
	Path      string       `json:"path"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// ServiceGrant allows a grantee to see or download from someone else's
// catalog. An empty ServiceID makes the grant provider-wide; a grant with
// both ProviderID and ServiceID empty is a blanket view grant.
type ServiceGrant struct {
	Grantee     PrincipalRef `json:"grantee"`
	ProviderID  string       `json:"providerId,omitempty"`
	ServiceID   string       `json:"serviceId,omitempty"`
	CanView     bool         `json:"canView"`
	CanDownload bool         `json:"canDownload"`
}

// FileRule restricts a grantee to specific filenames within a service. A
// service with no rules for a grantee imposes no file-level restriction.
type FileRule struct {
	Grantee     PrincipalRef `json:"grantee"`
	ServiceID   string       `json:"serviceId"`
	Filename    string       `json:"filename"`
	CanView     bool         `json:"canView"`
	CanDownload bool         `json:"canDownload"`
}
