// Package remote provides the client surface for the hosted page database.
//
// The remote store is a presentation mirror of the local task store: every
// local task or subtask corresponds to one remote page, a record with typed
// properties and relation links. This package owns the capability interface
// the sync engine consumes, the typed property variants used to build
// payloads, the HTTP implementation, and the retry executor that wraps
// every remote mutation.
//
// The engine never treats the remote store as authoritative. Pages are only
// read back to discover existing mappings or to audit drift.
package remote

import (
	"context"
	"time"
)

// Page is one remote record.
type Page struct {
	ID          string
	Properties  PropertyMap
	Archived    bool
	CreatedTime time.Time
}

// QueryResult is one page of query results plus the cursor for the next.
type QueryResult struct {
	Results    []Page
	NextCursor string
	HasMore    bool
}

// PropertySchema describes one property of the remote database schema.
type PropertySchema struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // title, rich_text, select, status, number, date, relation, ...
}

// Schema is the remote database's property schema, keyed by property name.
type Schema struct {
	ID         string
	Properties map[string]PropertySchema
}

// Filter restricts a query to pages matching a property condition. A zero
// Filter matches everything. Only the small subset the engine needs is
// modeled; arbitrary filter trees are out of scope.
type Filter struct {
	Property string
	// RichTextEquals matches pages whose rich-text property equals the value.
	RichTextEquals string
}

// Client is the capability surface the sync engine consumes.
//
// Implementations must be safe for sequential use from a single goroutine;
// the engine bounds concurrency itself by issuing requests in fixed-size
// batches. All methods honor ctx cancellation before dispatch, but a request
// already on the wire is not interrupted.
type Client interface {
	// CreatePage creates a record under the given database and returns it.
	CreatePage(ctx context.Context, databaseID string, props PropertyMap) (*Page, error)

	// UpdatePage replaces the given properties on an existing record.
	// Properties not mentioned are left untouched.
	UpdatePage(ctx context.Context, pageID string, props PropertyMap) error

	// ArchivePage archives (soft-deletes) a record. Archiving an already
	// archived record is a no-op, not an error.
	ArchivePage(ctx context.Context, pageID string) error

	// UnarchivePage restores an archived record.
	UnarchivePage(ctx context.Context, pageID string) error

	// RetrievePage fetches a single record by id, archived or not.
	RetrievePage(ctx context.Context, pageID string) (*Page, error)

	// QueryPages returns one page of results for the database, optionally
	// filtered, starting at cursor (empty = first page).
	QueryPages(ctx context.Context, databaseID string, filter *Filter, cursor string) (*QueryResult, error)

	// RetrieveSchema fetches the database's property schema.
	RetrieveSchema(ctx context.Context, databaseID string) (*Schema, error)
}

// QueryAll drains QueryPages across every cursor and returns all matching
// pages. The remote API caps page size (100), so any database of real size
// requires this.
func QueryAll(ctx context.Context, c Client, databaseID string, filter *Filter) ([]Page, error) {
	var all []Page
	cursor := ""
	for {
		res, err := c.QueryPages(ctx, databaseID, filter, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, res.Results...)
		if !res.HasMore || res.NextCursor == "" {
			return all, nil
		}
		cursor = res.NextCursor
	}
}
