package api

import "encoding/json"

// Messages of the gripper.GRIPSource service. Field names follow the
// gripper protocol so hosts and this server agree on the JSON encoding.

// Empty is the request of GetCollections.
type Empty struct{}

// Collection names a collection.
type Collection struct {
	Name string `json:"name"`
}

// CollectionInfo lists the fields a collection can be searched by.
type CollectionInfo struct {
	SearchFields []string `json:"search_fields"`
}

// RowID is one element of GetIDs.
type RowID struct {
	ID string `json:"id"`
}

// RowRequest is one element of the GetRowsByID request stream.
type RowRequest struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	RequestID  uint64 `json:"requestID"`
}

// FieldRequest asks GetRowsByField for rows where field equals value.
type FieldRequest struct {
	Collection string `json:"collection"`
	Field      string `json:"field"`
	Value      string `json:"value"`
}

// Row carries one vertex or edge. RequestID is only set on GetRowsByID
// responses, where it echoes the request it answers.
type Row struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	RequestID uint64          `json:"requestID,omitempty"`
}
