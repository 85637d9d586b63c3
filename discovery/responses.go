// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"encoding/json"
	"strings"

	"github.com/exedra-dev/xrgate/model"
)

// Subsystem is the canonical internal shape for a listClients entry, after
// normalization.
type Subsystem struct {
	model.ClientID
	DisplayName string
}

// clientListResponse is the wire shape of GET /listClients.
type clientListResponse struct {
	Member []memberEntry `json:"member"`
}

type memberEntry struct {
	ID            memberID `json:"id"`
	Name          string   `json:"name"`
	SubsystemName string   `json:"subsystem_name"`
}

type memberID struct {
	ObjectType    string `json:"object_type"`
	XRoadInstance string `json:"xroad_instance"`
	MemberClass   string `json:"member_class"`
	MemberCode    string `json:"member_code"`
	SubsystemCode string `json:"subsystem_code"`
}

// subsystems filters the member list down to SUBSYSTEM entries and produces
// the canonical shape. Display name falls back through subsystem name,
// subsystem code, member name and member code, in that order.
func (r clientListResponse) subsystems() []Subsystem {
	var out []Subsystem
	for _, m := range r.Member {
		if m.ID.ObjectType != "SUBSYSTEM" {
			continue
		}
		display := firstNonEmpty(m.SubsystemName, m.ID.SubsystemCode, m.Name, m.ID.MemberCode)
		out = append(out, Subsystem{
			ClientID: model.ClientID{
				XRoadInstance: m.ID.XRoadInstance,
				MemberClass:   m.ID.MemberClass,
				MemberCode:    m.ID.MemberCode,
				SubsystemCode: m.ID.SubsystemCode,
			},
			DisplayName: display,
		})
	}
	return out
}

// ServiceDescriptor is the canonical internal shape for one allowedMethods
// service entry.
type ServiceDescriptor struct {
	ServiceCode    string               `json:"service_code"`
	ServiceVersion string               `json:"service_version"`
	ServiceType    string               `json:"service_type"`
	EndpointList   []EndpointDescriptor `json:"endpoint_list"`
}

// EndpointDescriptor is one endpoint inside a service descriptor.
type EndpointDescriptor struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// allowedMethodsResponse is the wire shape of an allowedMethods fetch. Some
// servers answer with a single service object instead of a list, so the
// field carries a custom unmarshaller producing one canonical shape instead
// of branching at every call site.
type allowedMethodsResponse struct {
	Service serviceList `json:"service"`
}

type serviceList []ServiceDescriptor

func (l *serviceList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*l = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var many []ServiceDescriptor
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*l = many
		return nil
	}
	var one ServiceDescriptor
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*l = serviceList{one}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
