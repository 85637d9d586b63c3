// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinURL(t *testing.T) {
	tests := []struct {
		description string
		parts       []string
		expected    string
	}{
		{
			description: "FullChain",
			parts:       []string{"https://ss.example.com", "r1", "EE", "COM", "123", "INVOICES", "svc"},
			expected:    "https://ss.example.com/r1/EE/COM/123/INVOICES/svc",
		},
		{
			description: "EmptyRouteVersionDropped",
			parts:       []string{"https://ss.example.com", "", "EE", "COM"},
			expected:    "https://ss.example.com/EE/COM",
		},
		{
			description: "DuplicateSlashesCollapsed",
			parts:       []string{"https://ss.example.com/", "/r1/", "/listClients"},
			expected:    "https://ss.example.com/r1/listClients",
		},
		{
			description: "NoScheme",
			parts:       []string{"ss.example.com", "listClients"},
			expected:    "ss.example.com/listClients",
		},
		{
			description: "AllEmpty",
			parts:       []string{"", ""},
			expected:    "",
		},
	}
	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			assert.Equal(t, tc.expected, JoinURL(tc.parts...))
		})
	}
}

func TestEnsureLeadingSlash(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("/", EnsureLeadingSlash(""))
	assert.Equal("/files", EnsureLeadingSlash("files"))
	assert.Equal("/files", EnsureLeadingSlash("/files"))
}
