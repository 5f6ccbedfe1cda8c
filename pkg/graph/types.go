package graph

import (
	"encoding/json"
	"errors"
)

var (
	// ErrNotFound is returned for collections that do not exist.
	ErrNotFound = errors.New("collection not found")
	// ErrInvalidArgument is returned for malformed collection names and
	// fields that cannot be searched in the requested collection.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Row is one vertex or edge row. Data is a JSON object.
type Row struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// RowRequest asks for one row by id. RequestID is echoed on the response.
type RowRequest struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	RequestID  string `json:"request_id"`
}

// RowResponse answers a RowRequest.
type RowResponse struct {
	Row
	RequestID string `json:"request_id"`
}

// FieldRequest looks rows up by an indexed field. Field may be given as
// "name" or as the "$.name" path returned by DescribeCollection.
type FieldRequest struct {
	Collection string `json:"collection"`
	Field      string `json:"field"`
	Value      string `json:"value"`
}

// CollectionInfo describes a collection's searchable fields.
type CollectionInfo struct {
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	SearchFields []string `json:"search_fields"`
}
