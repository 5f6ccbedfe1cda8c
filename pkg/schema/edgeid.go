package schema

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMalformedEdgeID is returned when an edge id cannot be decoded.
var ErrMalformedEdgeID = errors.New("malformed edge id")

var idEscaper = strings.NewReplacer("%", "%25", "/", "%2F", ":", "%3A")

// EdgeID identifies one synthesized edge row. It is never stored; the string
// form carries every component so it can be decoded on a later request.
type EdgeID struct {
	SourceType string
	SourceID   string
	Field      string
	TargetType string
	TargetID   string
}

// String encodes the id as "{src}/{srcId}:{field}:{dst}/{dstId}". Components
// are percent-escaped for '%', '/' and ':' so decoding is unambiguous.
func (e EdgeID) String() string {
	var b strings.Builder
	b.WriteString(idEscaper.Replace(e.SourceType))
	b.WriteByte('/')
	b.WriteString(idEscaper.Replace(e.SourceID))
	b.WriteByte(':')
	b.WriteString(idEscaper.Replace(e.Field))
	b.WriteByte(':')
	b.WriteString(idEscaper.Replace(e.TargetType))
	b.WriteByte('/')
	b.WriteString(idEscaper.Replace(e.TargetID))
	return b.String()
}

// Collection returns the edge collection this id belongs to.
func (e EdgeID) Collection() string {
	return EdgeCollectionName(e.SourceType, e.Field)
}

// TargetReference returns the literal reference the source holds, "{dst}/{dstId}".
func (e EdgeID) TargetReference() string {
	return e.TargetType + "/" + e.TargetID
}

// ParseEdgeID decodes the output of EdgeID.String.
func ParseEdgeID(s string) (EdgeID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return EdgeID{}, fmt.Errorf("%w: %q", ErrMalformedEdgeID, s)
	}

	srcType, srcID, err := splitPair(parts[0])
	if err != nil {
		return EdgeID{}, fmt.Errorf("%w: %q: %v", ErrMalformedEdgeID, s, err)
	}
	field, err := unescape(parts[1])
	if err != nil {
		return EdgeID{}, fmt.Errorf("%w: %q: %v", ErrMalformedEdgeID, s, err)
	}
	dstType, dstID, err := splitPair(parts[2])
	if err != nil {
		return EdgeID{}, fmt.Errorf("%w: %q: %v", ErrMalformedEdgeID, s, err)
	}

	return EdgeID{
		SourceType: srcType,
		SourceID:   srcID,
		Field:      field,
		TargetType: dstType,
		TargetID:   dstID,
	}, nil
}

func splitPair(s string) (string, string, error) {
	typ, id, ok := strings.Cut(s, "/")
	if !ok || strings.Contains(id, "/") {
		return "", "", errors.New("expected Type/id")
	}
	t, err := unescape(typ)
	if err != nil {
		return "", "", err
	}
	i, err := unescape(id)
	if err != nil {
		return "", "", err
	}
	if t == "" || i == "" {
		return "", "", errEmptySegment
	}
	return t, i, nil
}

func unescape(s string) (string, error) {
	if s == "" {
		return "", errEmptySegment
	}
	return url.PathUnescape(s)
}
