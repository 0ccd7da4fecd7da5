package fhir

import (
	"sort"
	"sync"
	"time"
)

// SearchParam describes one searchable field advertised for a resource.
type SearchParam struct {
	Name          string
	Type          string
	Documentation string
}

// capabilityResource is the accumulated registration for one resource type.
type capabilityResource struct {
	interactions []string
	searchParams []SearchParam
}

// CapabilityBuilder assembles the /fhir/metadata CapabilityStatement from
// whatever the domain modules register at startup, so the statement never
// advertises an endpoint that is not actually routed.
type CapabilityBuilder struct {
	mu        sync.RWMutex
	resources map[string]*capabilityResource

	ServerVersion string
	BaseURL       string
}

// NewCapabilityBuilder creates a builder for the given FHIR base URL
// (for example "http://localhost:8000/fhir") and server version.
func NewCapabilityBuilder(baseURL, version string) *CapabilityBuilder {
	return &CapabilityBuilder{
		resources:     make(map[string]*capabilityResource),
		ServerVersion: version,
		BaseURL:       baseURL,
	}
}

// AddResource registers interactions and search parameters for a resource
// type. Repeat registrations for the same type merge, keeping first
// occurrence order and dropping duplicates.
func (b *CapabilityBuilder) AddResource(resourceType string, interactions []string, searchParams []SearchParam) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := b.resources[resourceType]
	if entry == nil {
		entry = &capabilityResource{}
		b.resources[resourceType] = entry
	}
	entry.interactions = appendNewStrings(entry.interactions, interactions)
	entry.searchParams = appendNewParams(entry.searchParams, searchParams)
}

func appendNewStrings(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range incoming {
		if !seen[s] {
			existing = append(existing, s)
			seen[s] = true
		}
	}
	return existing
}

func appendNewParams(existing, incoming []SearchParam) []SearchParam {
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p.Name] = true
	}
	for _, p := range incoming {
		if !seen[p.Name] {
			existing = append(existing, p)
			seen[p.Name] = true
		}
	}
	return existing
}

// Build renders the CapabilityStatement with resources in alphabetical
// order.
func (b *CapabilityBuilder) Build() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()

	resources := make([]map[string]interface{}, 0, len(b.resources))
	for _, rt := range b.sortedTypesLocked() {
		resources = append(resources, resourceBlock(rt, b.resources[rt]))
	}

	return map[string]interface{}{
		"resourceType": "CapabilityStatement",
		"status":       "active",
		"date":         time.Now().UTC().Format("2006-01-02"),
		"kind":         "instance",
		"fhirVersion":  "4.0.1",
		"format":       []string{"json"},
		"software": map[string]string{
			"name":    "Mentis",
			"version": b.ServerVersion,
		},
		"implementation": map[string]string{
			"description": "Mentis psychometric assessment server",
			"url":         b.BaseURL,
		},
		"rest": []map[string]interface{}{
			{
				"mode":     "server",
				"resource": resources,
				"security": securityBlock(),
			},
		},
	}
}

// sortedTypesLocked returns the registered type names in order. Callers
// hold at least a read lock.
func (b *CapabilityBuilder) sortedTypesLocked() []string {
	types := make([]string, 0, len(b.resources))
	for rt := range b.resources {
		types = append(types, rt)
	}
	sort.Strings(types)
	return types
}

// resourceBlock renders one resource. Catalog rows carry no version
// history, so everything advertises no-version.
func resourceBlock(resourceType string, entry *capabilityResource) map[string]interface{} {
	block := map[string]interface{}{
		"type":       resourceType,
		"versioning": "no-version",
	}

	if len(entry.interactions) > 0 {
		block["interaction"] = interactionList(entry.interactions)
	}
	if len(entry.searchParams) > 0 {
		block["searchParam"] = searchParamList(entry.searchParams)
	}
	return block
}

func interactionList(codes []string) []map[string]string {
	out := make([]map[string]string, 0, len(codes))
	for _, code := range codes {
		out = append(out, map[string]string{"code": code})
	}
	return out
}

func searchParamList(params []SearchParam) []map[string]string {
	out := make([]map[string]string, 0, len(params))
	for _, sp := range params {
		p := map[string]string{"name": sp.Name, "type": sp.Type}
		if sp.Documentation != "" {
			p["documentation"] = sp.Documentation
		}
		out = append(out, p)
	}
	return out
}

func securityBlock() map[string]interface{} {
	return map[string]interface{}{
		"cors": true,
		"service": []map[string]interface{}{
			{
				"coding": []map[string]string{{
					"system":  "http://terminology.hl7.org/CodeSystem/restful-security-service",
					"code":    "OAuth",
					"display": "OAuth",
				}},
			},
		},
		"description": "Bearer token (JWT) in the Authorization header",
	}
}

// ResourceCount reports how many resource types are registered.
func (b *CapabilityBuilder) ResourceCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.resources)
}

// GetResourceTypes returns the registered resource type names in
// alphabetical order.
func (b *CapabilityBuilder) GetResourceTypes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sortedTypesLocked()
}

// ReadOnlyInteractions is the interaction set for resources that only
// support retrieval.
func ReadOnlyInteractions() []string {
	return []string{"read", "search-type"}
}
