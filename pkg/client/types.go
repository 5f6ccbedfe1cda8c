package client

import "github.com/rmax-ai/fhirgraph/pkg/api"

// Row is a vertex or edge row as sent by the server.
type Row = api.Row

// RowRequest asks RowsByID for one row. RequestID is echoed on the answer.
type RowRequest = api.RowRequest

// CollectionInfo describes one collection.
type CollectionInfo struct {
	Name         string   `json:"name"`
	SearchFields []string `json:"search_fields"`
}
