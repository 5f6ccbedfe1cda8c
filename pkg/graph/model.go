package graph

import (
	"bytes"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/rmax-ai/fhirgraph/pkg/fhir"
	"github.com/rmax-ai/fhirgraph/pkg/schema"
)

// VertexMapping mounts a vertex collection as vertices with one label.
type VertexMapping struct {
	Source     string `yaml:"source"`
	Collection string `yaml:"collection"`
	Label      string `yaml:"label"`
}

// EdgeTable names the edge collection and the fields joining it to vertices.
type EdgeTable struct {
	Source     string `yaml:"source"`
	Collection string `yaml:"collection"`
	FromField  string `yaml:"fromField"`
	ToField    string `yaml:"toField"`
}

// EdgeMapping mounts an edge collection between two vertex prefixes.
type EdgeMapping struct {
	FromVertex string    `yaml:"fromVertex"`
	ToVertex   string    `yaml:"toVertex"`
	Label      string    `yaml:"label"`
	EdgeTable  EdgeTable `yaml:"edgeTable"`
}

// Model describes how a graph host should mount the collections served by
// this plugin. It is structural metadata only and is never queried.
type Model struct {
	Vertices map[string]VertexMapping `yaml:"vertices"`
	Edges    map[string]EdgeMapping   `yaml:"edges"`
}

func vertexPrefix(resourceType string) string {
	return resourceType + "/"
}

// BuildModel generates the graph model for a catalog and edge schema. source
// is the name the host registered this plugin under. Edges whose endpoints
// are not both advertised vertex types are left out.
func BuildModel(source string, catalog *fhir.CapabilityStatement, edges *schema.EdgeSchema) *Model {
	m := &Model{
		Vertices: make(map[string]VertexMapping),
		Edges:    make(map[string]EdgeMapping),
	}

	for _, def := range catalog.Resources() {
		m.Vertices[vertexPrefix(def.Type)] = VertexMapping{
			Source:     source,
			Collection: def.Type,
			Label:      def.Type,
		}
	}

	for _, e := range edges.Entries() {
		_, hasFrom := m.Vertices[vertexPrefix(e.SourceType)]
		_, hasTo := m.Vertices[vertexPrefix(e.TargetType)]
		if !hasFrom || !hasTo {
			slog.Warn("model_edge_skipped", "collection", e.Collection(), "from", e.SourceType, "to", e.TargetType, "reason", "endpoint_not_advertised")
			continue
		}

		srcKey, dstKey := EdgeFields(e)
		m.Edges[e.Collection()] = EdgeMapping{
			FromVertex: vertexPrefix(e.SourceType),
			ToVertex:   vertexPrefix(e.TargetType),
			Label:      e.Field,
			EdgeTable: EdgeTable{
				Source:     source,
				Collection: e.Collection(),
				FromField:  FieldPath(srcKey),
				ToField:    FieldPath(dstKey),
			},
		}
	}
	return m
}

// Marshal renders the model as YAML.
func (m *Model) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("failed to encode graph model: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode graph model: %w", err)
	}
	return buf.Bytes(), nil
}
