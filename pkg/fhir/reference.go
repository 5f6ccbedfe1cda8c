package fhir

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Reference is a parsed "Type/id" pointer to another resource.
type Reference struct {
	Type string
	ID   string
}

// String renders the reference in its literal form.
func (r Reference) String() string {
	return r.Type + "/" + r.ID
}

// ParseReference splits a literal reference. Absolute urls, contained
// references ("#id") and versioned references are rejected.
func ParseReference(s string) (Reference, bool) {
	typ, id, ok := strings.Cut(s, "/")
	if !ok || typ == "" || id == "" || strings.Contains(id, "/") {
		return Reference{}, false
	}
	if strings.ContainsAny(typ, ":#?") || strings.ContainsAny(id, "#?") {
		return Reference{}, false
	}
	return Reference{Type: typ, ID: id}, true
}

type referenceValue struct {
	Reference *string `json:"reference"`
}

// ReferencesOf normalizes a field value holding either one reference object
// or a list of them. It returns the parsed references in order and the count
// of values that were not usable literal references.
func ReferencesOf(raw json.RawMessage) ([]Reference, int) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, 0
	}

	var items []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, 1
		}
	} else {
		items = []json.RawMessage{raw}
	}

	var (
		refs      []Reference
		malformed int
	)
	for _, item := range items {
		var v referenceValue
		if err := json.Unmarshal(item, &v); err != nil || v.Reference == nil {
			malformed++
			continue
		}
		ref, ok := ParseReference(*v.Reference)
		if !ok {
			malformed++
			continue
		}
		refs = append(refs, ref)
	}
	return refs, malformed
}
