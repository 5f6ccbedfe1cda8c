package fhir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReference(t *testing.T) {
	tests := []struct {
		in   string
		want Reference
		ok   bool
	}{
		{in: "Patient/123", want: Reference{Type: "Patient", ID: "123"}, ok: true},
		{in: "Encounter/a.b-c", want: Reference{Type: "Encounter", ID: "a.b-c"}, ok: true},
		{in: "Patient", ok: false},
		{in: "/123", ok: false},
		{in: "Patient/", ok: false},
		{in: "#contained", ok: false},
		{in: "http://example.org/fhir/Patient/1", ok: false},
		{in: "Patient/1/_history/2", ok: false},
		{in: "urn:uuid:1234/5", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseReference(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
				assert.Equal(t, tt.in, got.String())
			}
		})
	}
}

func TestReferencesOf_SingleAndListNormalizeIdentically(t *testing.T) {
	single, badSingle := ReferencesOf(json.RawMessage(`{"reference": "Patient/p1", "display": "Jane"}`))
	list, badList := ReferencesOf(json.RawMessage(`[{"reference": "Patient/p1"}]`))

	assert.Equal(t, []Reference{{Type: "Patient", ID: "p1"}}, single)
	assert.Equal(t, single, list)
	assert.Zero(t, badSingle)
	assert.Zero(t, badList)
}

func TestReferencesOf_Malformed(t *testing.T) {
	raw := json.RawMessage(`[
		{"reference": "Practitioner/dr1"},
		{"display": "no literal reference"},
		{"reference": "#contained-1"},
		"Practitioner/dr2",
		{"reference": "Practitioner/dr3"}
	]`)

	refs, malformed := ReferencesOf(raw)

	assert.Equal(t, []Reference{
		{Type: "Practitioner", ID: "dr1"},
		{Type: "Practitioner", ID: "dr3"},
	}, refs)
	assert.Equal(t, 3, malformed)
}

func TestReferencesOf_Empty(t *testing.T) {
	for _, raw := range []string{``, `null`, `[]`} {
		refs, malformed := ReferencesOf(json.RawMessage(raw))
		assert.Empty(t, refs, raw)
		assert.Zero(t, malformed, raw)
	}
}

func TestParseResource(t *testing.T) {
	res, err := ParseResource(json.RawMessage(`{"resourceType": "Observation", "id": "o1", "subject": {"reference": "Patient/p1"}, "note": null}`))
	assert.NoError(t, err)
	assert.Equal(t, "Observation", res.Type)
	assert.Equal(t, "o1", res.ID)

	refs, malformed := res.References("subject")
	assert.Equal(t, []Reference{{Type: "Patient", ID: "p1"}}, refs)
	assert.Zero(t, malformed)

	_, ok := res.Field("note")
	assert.False(t, ok, "null fields are treated as absent")
	_, ok = res.Field("missing")
	assert.False(t, ok)

	_, err = ParseResource(json.RawMessage(`{"resourceType": "Observation"}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ParseResource(json.RawMessage(`[1, 2]`))
	assert.ErrorIs(t, err, ErrMalformed)
}
