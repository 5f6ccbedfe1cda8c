package graph

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/rmax-ai/fhirgraph/pkg/fhir"
	"github.com/rmax-ai/fhirgraph/pkg/schema"
)

const fieldPathPrefix = "$."

// EdgeFields returns the two data keys of an edge row: the source type name
// and the target type name. When an edge points back at its own type the
// target key becomes the edge field so the keys stay distinct.
func EdgeFields(e schema.Entry) (string, string) {
	if e.TargetType == e.SourceType {
		return e.SourceType, e.Field
	}
	return e.SourceType, e.TargetType
}

// FieldPath renders a field name the way collections advertise it.
func FieldPath(name string) string {
	return fieldPathPrefix + name
}

func trimFieldPath(field string) string {
	return strings.TrimPrefix(field, fieldPathPrefix)
}

// edgeSet synthesizes edge rows for one edge collection.
type edgeSet struct {
	schema.Entry
	srcKey string
	dstKey string
}

func newEdgeSet(e schema.Entry) edgeSet {
	src, dst := EdgeFields(e)
	return edgeSet{Entry: e, srcKey: src, dstKey: dst}
}

// targets returns the references of res that point at the edge's target type.
// References to other types and malformed values are left out.
func (es edgeSet) targets(res fhir.Resource) []fhir.Reference {
	refs, malformed := res.References(es.Field)
	if malformed > 0 {
		fhir.MalformedReferences.WithLabelValues(es.SourceType, es.Field).Add(float64(malformed))
		slog.Debug("malformed_references_skipped", "resource_type", es.SourceType, "id", res.ID, "field", es.Field, "count", malformed)
	}

	out := refs[:0]
	for _, ref := range refs {
		if ref.Type == es.TargetType {
			out = append(out, ref)
		}
	}
	return out
}

func (es edgeSet) row(sourceID, targetID string) (Row, error) {
	id := schema.EdgeID{
		SourceType: es.SourceType,
		SourceID:   sourceID,
		Field:      es.Field,
		TargetType: es.TargetType,
		TargetID:   targetID,
	}
	data, err := json.Marshal(map[string]string{
		es.srcKey: sourceID,
		es.dstKey: targetID,
	})
	if err != nil {
		return Row{}, err
	}
	return Row{ID: id.String(), Data: data}, nil
}

// emitAll sends one row per matching reference of res. keep filters on target id.
func (es edgeSet) emitAll(res fhir.Resource, keep func(fhir.Reference) bool, emit func(Row) error) error {
	for _, ref := range es.targets(res) {
		if keep != nil && !keep(ref) {
			continue
		}
		row, err := es.row(res.ID, ref.ID)
		if err != nil {
			return err
		}
		if err := emit(row); err != nil {
			return err
		}
	}
	return nil
}
