package fhirtest

import (
	"strings"

	"github.com/rmax-ai/fhirgraph/pkg/fhir"
)

// Resource builds a resource document with the given extra fields.
func Resource(resourceType, id string, fields map[string]any) map[string]any {
	out := map[string]any{
		"resourceType": resourceType,
		"id":           id,
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// Ref builds a reference object.
func Ref(reference string) map[string]any {
	return map[string]any{"reference": reference}
}

// Refs builds a list of reference objects.
func Refs(references ...string) []any {
	out := make([]any, 0, len(references))
	for _, r := range references {
		out = append(out, Ref(r))
	}
	return out
}

// Definition builds a resource definition from "name:type" search params.
func Definition(resourceType string, params ...string) fhir.ResourceDefinition {
	def := fhir.ResourceDefinition{Type: resourceType}
	for _, p := range params {
		name, kind := p, "token"
		if i := strings.LastIndexByte(p, ':'); i >= 0 {
			name, kind = p[:i], p[i+1:]
		}
		def.SearchParams = append(def.SearchParams, fhir.SearchParam{Name: name, Type: kind})
	}
	return def
}
