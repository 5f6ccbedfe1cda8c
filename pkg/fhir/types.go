package fhir

import "encoding/json"

// SearchParamReference is the search parameter kind that points at another resource.
const SearchParamReference = "reference"

// SearchParam is one searchable parameter advertised for a resource type.
type SearchParam struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ResourceDefinition is a resource type entry in the capability statement.
type ResourceDefinition struct {
	Type         string        `json:"type"`
	SearchParams []SearchParam `json:"searchParam"`
}

// ReferenceParams returns the reference typed search parameters, in advertised order.
func (d ResourceDefinition) ReferenceParams() []SearchParam {
	var out []SearchParam
	for _, p := range d.SearchParams {
		if p.Type == SearchParamReference {
			out = append(out, p)
		}
	}
	return out
}

// HasSearchParam reports whether name is a search parameter of this type.
func (d ResourceDefinition) HasSearchParam(name string) bool {
	for _, p := range d.SearchParams {
		if p.Name == name {
			return true
		}
	}
	return false
}

type capabilityRest struct {
	Resource []ResourceDefinition `json:"resource"`
}

// CapabilityStatement is the subset of the server's metadata response we rely on.
type CapabilityStatement struct {
	ResourceType string           `json:"resourceType"`
	Rest         []capabilityRest `json:"rest"`
}

// NewCapabilityStatement builds a statement with a single rest block.
// Mostly useful for tests and fixtures.
func NewCapabilityStatement(defs ...ResourceDefinition) *CapabilityStatement {
	return &CapabilityStatement{
		ResourceType: "CapabilityStatement",
		Rest:         []capabilityRest{{Resource: defs}},
	}
}

// Resources flattens every rest block into one list of resource definitions.
func (c *CapabilityStatement) Resources() []ResourceDefinition {
	if c == nil {
		return nil
	}
	var out []ResourceDefinition
	for _, r := range c.Rest {
		out = append(out, r.Resource...)
	}
	return out
}

// Resource looks up the definition for a resource type.
func (c *CapabilityStatement) Resource(resourceType string) (ResourceDefinition, bool) {
	for _, def := range c.Resources() {
		if def.Type == resourceType {
			return def, true
		}
	}
	return ResourceDefinition{}, false
}

// BundleLink is a navigation link attached to a search result page.
type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// BundleEntry wraps one resource on a search result page.
type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource"`
}

// Bundle is one page of a search or listing response.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type,omitempty"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link"`
	Entry        []BundleEntry `json:"entry"`
}

// NextURL returns the url of the link tagged "next", if any.
func (b *Bundle) NextURL() (string, bool) {
	for _, l := range b.Link {
		if l.Relation == "next" && l.URL != "" {
			return l.URL, true
		}
	}
	return "", false
}
