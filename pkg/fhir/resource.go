package fhir

import (
	"encoding/json"
	"fmt"
)

// Resource is a single resource instance as returned by the server.
// Raw keeps the original JSON so rows can be forwarded without re-encoding.
type Resource struct {
	Type   string
	ID     string
	Raw    json.RawMessage
	fields map[string]json.RawMessage
}

// ParseResource validates that raw is a JSON object carrying resourceType and id.
func ParseResource(raw json.RawMessage) (Resource, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Resource{}, fmt.Errorf("%w: resource is not an object: %v", ErrMalformed, err)
	}
	if fields == nil {
		return Resource{}, fmt.Errorf("%w: resource is null", ErrMalformed)
	}

	var r Resource
	if v, ok := fields["resourceType"]; ok {
		if err := json.Unmarshal(v, &r.Type); err != nil {
			return Resource{}, fmt.Errorf("%w: resourceType: %v", ErrMalformed, err)
		}
	}
	v, ok := fields["id"]
	if !ok {
		return Resource{}, fmt.Errorf("%w: resource has no id", ErrMalformed)
	}
	if err := json.Unmarshal(v, &r.ID); err != nil || r.ID == "" {
		return Resource{}, fmt.Errorf("%w: resource id is not a string", ErrMalformed)
	}

	r.Raw = raw
	r.fields = fields
	return r, nil
}

// Field returns the raw JSON of a top level field.
func (r Resource) Field(name string) (json.RawMessage, bool) {
	v, ok := r.fields[name]
	if !ok || string(v) == "null" {
		return nil, false
	}
	return v, true
}

// References returns every well formed reference held by field, plus the
// number of values that could not be parsed as "Type/id".
func (r Resource) References(field string) ([]Reference, int) {
	v, ok := r.Field(field)
	if !ok {
		return nil, 0
	}
	return ReferencesOf(v)
}
