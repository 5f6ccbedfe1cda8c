package schema

import (
	"errors"
	"fmt"
	"strings"
)

const edgeSuffix = "edges"

var (
	// ErrMalformedCollection is returned for names that look like edge
	// collections but are not exactly "{src}:{field}:edges".
	ErrMalformedCollection = errors.New("malformed collection name")
	errEmptySegment        = errors.New("empty name")
	errReservedChar        = errors.New("name contains ':'")
)

// CollectionKind distinguishes vertex collections from synthesized edge collections.
type CollectionKind int

const (
	VertexCollection CollectionKind = iota
	EdgeCollection
)

func (k CollectionKind) String() string {
	if k == EdgeCollection {
		return "edge"
	}
	return "vertex"
}

// Collection is a parsed collection name.
type Collection struct {
	Name string
	Kind CollectionKind
	// Type is the resource type for vertex collections and the source type for edges.
	Type string
	// Field is the edge field; empty for vertex collections.
	Field string
}

// EdgeCollectionName returns "{src}:{field}:edges".
func EdgeCollectionName(sourceType, field string) string {
	return sourceType + ":" + field + ":" + edgeSuffix
}

// ParseCollection classifies a collection name. Resource type names never
// contain ':', so any name with a colon must be a well formed edge collection.
func ParseCollection(name string) (Collection, error) {
	if name == "" {
		return Collection{}, fmt.Errorf("%w: empty", ErrMalformedCollection)
	}
	if !strings.Contains(name, ":") {
		return Collection{Name: name, Kind: VertexCollection, Type: name}, nil
	}

	parts := strings.Split(name, ":")
	if len(parts) != 3 || parts[2] != edgeSuffix || parts[0] == "" || parts[1] == "" {
		return Collection{}, fmt.Errorf("%w: %q", ErrMalformedCollection, name)
	}
	return Collection{Name: name, Kind: EdgeCollection, Type: parts[0], Field: parts[1]}, nil
}

func validateSegment(s string) error {
	if s == "" {
		return errEmptySegment
	}
	if strings.Contains(s, ":") {
		return errReservedChar
	}
	return nil
}
