package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEdgeID_StringMatchesLiteralForm(t *testing.T) {
	id := EdgeID{SourceType: "Observation", SourceID: "o1", Field: "subject", TargetType: "Patient", TargetID: "p1"}

	assert.Equal(t, "Observation/o1:subject:Patient/p1", id.String())
	assert.Equal(t, "Observation:subject:edges", id.Collection())
	assert.Equal(t, "Patient/p1", id.TargetReference())
}

func TestEdgeID_RoundTrip(t *testing.T) {
	ids := []EdgeID{
		{SourceType: "Observation", SourceID: "o1", Field: "subject", TargetType: "Patient", TargetID: "p1"},
		{SourceType: "Encounter", SourceID: "a.b-c", Field: "participant", TargetType: "Practitioner", TargetID: "123"},
		{SourceType: "X", SourceID: "has/slash", Field: "f", TargetType: "Y", TargetID: "has:colon"},
		{SourceType: "X", SourceID: "100%", Field: "odd%2Ffield", TargetType: "Y", TargetID: "%3A"},
		{SourceType: "Patient", SourceID: "p1", Field: "link", TargetType: "Patient", TargetID: "p2"},
	}

	for _, id := range ids {
		t.Run(id.String(), func(t *testing.T) {
			got, err := ParseEdgeID(id.String())
			require.NoError(t, err)
			assert.Equal(t, id, got)
		})
	}
}

func TestParseEdgeID_Malformed(t *testing.T) {
	for _, s := range []string{
		"",
		"Observation/o1",
		"Observation/o1:subject",
		"Observation/o1:subject:Patient/p1:extra",
		"Observation:subject:Patient/p1",
		"Observation/o1:subject:Patient",
		"Observation/o1/x:subject:Patient/p1",
		"/o1:subject:Patient/p1",
		"Observation/o1::Patient/p1",
		"Observation/%zz:subject:Patient/p1",
	} {
		_, err := ParseEdgeID(s)
		assert.ErrorIs(t, err, ErrMalformedEdgeID, s)
	}
}

func TestParseCollection(t *testing.T) {
	c, err := ParseCollection("Patient")
	require.NoError(t, err)
	assert.Equal(t, Collection{Name: "Patient", Kind: VertexCollection, Type: "Patient"}, c)
	assert.Equal(t, "vertex", c.Kind.String())

	c, err = ParseCollection("Observation:subject:edges")
	require.NoError(t, err)
	assert.Equal(t, Collection{Name: "Observation:subject:edges", Kind: EdgeCollection, Type: "Observation", Field: "subject"}, c)
	assert.Equal(t, "edge", c.Kind.String())

	for _, name := range []string{
		"",
		"Observation:subject",
		"Observation:subject:edges:x",
		"Observation:subject:vertices",
		":subject:edges",
		"Observation::edges",
	} {
		_, err := ParseCollection(name)
		assert.ErrorIs(t, err, ErrMalformedCollection, name)
	}
}
