package schema

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Entry is one directed relationship: SourceType.Field always points at TargetType.
type Entry struct {
	SourceType string
	Field      string
	TargetType string
}

// Collection returns the edge collection name for this entry.
func (e Entry) Collection() string {
	return EdgeCollectionName(e.SourceType, e.Field)
}

// EdgeSchema maps source type -> edge field -> target type. It is built once
// by discovery and treated as read-only afterwards.
type EdgeSchema struct {
	Edges map[string]map[string]string `yaml:"edges"`
}

// New returns an empty schema.
func New() *EdgeSchema {
	return &EdgeSchema{Edges: make(map[string]map[string]string)}
}

// Set records an edge.
func (s *EdgeSchema) Set(sourceType, field, targetType string) {
	if s.Edges == nil {
		s.Edges = make(map[string]map[string]string)
	}
	if s.Edges[sourceType] == nil {
		s.Edges[sourceType] = make(map[string]string)
	}
	s.Edges[sourceType][field] = targetType
}

// Target returns the target type of sourceType.field.
func (s *EdgeSchema) Target(sourceType, field string) (string, bool) {
	if s == nil {
		return "", false
	}
	dst, ok := s.Edges[sourceType][field]
	return dst, ok
}

// Entries lists every edge sorted by source type then field.
func (s *EdgeSchema) Entries() []Entry {
	if s == nil {
		return nil
	}
	var out []Entry
	for src, fields := range s.Edges {
		for field, dst := range fields {
			out = append(out, Entry{SourceType: src, Field: field, TargetType: dst})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceType != out[j].SourceType {
			return out[i].SourceType < out[j].SourceType
		}
		return out[i].Field < out[j].Field
	})
	return out
}

// Len returns the number of edges.
func (s *EdgeSchema) Len() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, fields := range s.Edges {
		n += len(fields)
	}
	return n
}

// EdgeCollections lists the edge collection names in sorted order.
func (s *EdgeSchema) EdgeCollections() []string {
	entries := s.Entries()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Collection())
	}
	return out
}

// Marshal renders the schema as YAML. yaml.v3 sorts map keys, so the output
// is stable for a given schema.
func (s *EdgeSchema) Marshal() ([]byte, error) {
	doc := s
	if s == nil || s.Edges == nil {
		doc = New()
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal parses a YAML schema document.
func Unmarshal(data []byte) (*EdgeSchema, error) {
	s := New()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if s.Edges == nil {
		s.Edges = make(map[string]map[string]string)
	}
	for src, fields := range s.Edges {
		if err := validateSegment(src); err != nil {
			return nil, fmt.Errorf("invalid source type %q: %w", src, err)
		}
		for field, dst := range fields {
			if err := validateSegment(field); err != nil {
				return nil, fmt.Errorf("invalid edge field %s.%s: %w", src, field, err)
			}
			if err := validateSegment(dst); err != nil {
				return nil, fmt.Errorf("invalid target type for %s.%s: %w", src, field, err)
			}
		}
	}
	return s, nil
}

// Load reads a schema file.
func Load(path string) (*EdgeSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return Unmarshal(data)
}

// Save atomically writes the schema to path.
func (s *EdgeSchema) Save(path string) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	return WriteFile(path, data)
}
