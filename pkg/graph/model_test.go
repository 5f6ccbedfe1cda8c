package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/rmax-ai/fhirgraph/pkg/fhir"
	"github.com/rmax-ai/fhirgraph/pkg/fhir/fhirtest"
	"github.com/rmax-ai/fhirgraph/pkg/graph"
	"github.com/rmax-ai/fhirgraph/pkg/schema"
)

func TestBuildModel(t *testing.T) {
	catalog := fhir.NewCapabilityStatement(
		fhirtest.Definition("Patient", "link:reference"),
		fhirtest.Definition("Observation", "subject:reference", "focus:reference"),
	)
	edges := schema.New()
	edges.Set("Observation", "subject", "Patient")
	edges.Set("Observation", "focus", "Device") // Device is not served
	edges.Set("Patient", "link", "Patient")

	m := graph.BuildModel("fhir", catalog, edges)

	assert.Equal(t, graph.VertexMapping{Source: "fhir", Collection: "Patient", Label: "Patient"}, m.Vertices["Patient/"])
	assert.Len(t, m.Vertices, 2)

	require.Contains(t, m.Edges, "Observation:subject:edges")
	assert.NotContains(t, m.Edges, "Observation:focus:edges")
	assert.Equal(t, graph.EdgeMapping{
		FromVertex: "Observation/",
		ToVertex:   "Patient/",
		Label:      "subject",
		EdgeTable: graph.EdgeTable{
			Source:     "fhir",
			Collection: "Observation:subject:edges",
			FromField:  "$.Observation",
			ToField:    "$.Patient",
		},
	}, m.Edges["Observation:subject:edges"])

	self := m.Edges["Patient:link:edges"]
	assert.Equal(t, "$.Patient", self.EdgeTable.FromField)
	assert.Equal(t, "$.link", self.EdgeTable.ToField)
}

func TestModelMarshal(t *testing.T) {
	catalog := fhir.NewCapabilityStatement(fhirtest.Definition("Patient"))
	m := graph.BuildModel("fhir", catalog, schema.New())

	data, err := m.Marshal()
	require.NoError(t, err)

	var back graph.Model
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, "Patient", back.Vertices["Patient/"].Collection)
	assert.Contains(t, string(data), "vertices:")
	assert.NotContains(t, string(data), "\t")
}
