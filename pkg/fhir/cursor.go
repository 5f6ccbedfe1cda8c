package fhir

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
)

type pageFetcher func(ctx context.Context, op, rawURL string) ([]byte, error)

// Cursor walks a paginated search result lazily, one page at a time.
//
// A Cursor is not restartable and is not safe for concurrent use. The usual
// loop is:
//
//	cur := client.ListAll("Patient")
//	for cur.Next(ctx) {
//		res := cur.Resource()
//	}
//	if err := cur.Err(); err != nil { ... }
//
// A page that cannot be decoded as a Bundle ends the sequence without an
// error. Transport failures and context cancellation are reported by Err.
type Cursor struct {
	fetch        pageFetcher
	op           string
	resourceType string
	base         *url.URL
	nextURL      string

	limit int
	seen  int
	pages int

	page    []BundleEntry
	pos     int
	current Resource
	err     error
	done    bool
}

func newCursor(fetch pageFetcher, op, resourceType string, base *url.URL, firstURL string) *Cursor {
	return &Cursor{
		fetch:        fetch,
		op:           op,
		resourceType: resourceType,
		base:         base,
		nextURL:      firstURL,
	}
}

// Limit stops the cursor from requesting another page once n resources have
// been yielded. The page in progress is still drained. n <= 0 means no limit.
func (c *Cursor) Limit(n int) *Cursor {
	c.limit = n
	return c
}

// Next advances to the next resource, fetching the following page if needed.
func (c *Cursor) Next(ctx context.Context) bool {
	for !c.done {
		for c.pos < len(c.page) {
			entry := c.page[c.pos]
			c.pos++

			res, err := ParseResource(entry.Resource)
			if err != nil {
				slog.Warn("bundle_entry_skipped", "operation", c.op, "resource_type", c.resourceType, "error", err)
				continue
			}
			// _include results and OperationOutcome entries share the page
			if c.resourceType != "" && res.Type != "" && res.Type != c.resourceType {
				continue
			}
			c.seen++
			c.current = res
			return true
		}
		c.advance(ctx)
	}
	return false
}

// Resource returns the resource the last call to Next stopped on.
func (c *Cursor) Resource() Resource {
	return c.current
}

// Err returns the error that terminated the cursor, if any.
func (c *Cursor) Err() error {
	return c.err
}

// Pages reports how many pages have been requested so far.
func (c *Cursor) Pages() int {
	return c.pages
}

func (c *Cursor) advance(ctx context.Context) {
	c.page, c.pos = nil, 0

	if c.nextURL == "" || (c.limit > 0 && c.seen >= c.limit) {
		c.done = true
		return
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		c.done = true
		return
	}

	pageURL := c.nextURL
	c.nextURL = ""
	c.pages++

	body, err := c.fetch(ctx, c.op, pageURL)
	if err != nil {
		c.err = err
		c.done = true
		return
	}

	var bundle Bundle
	if err := json.Unmarshal(body, &bundle); err != nil || bundle.ResourceType != "Bundle" {
		MalformedPages.WithLabelValues(c.op).Inc()
		slog.Warn("malformed_search_page", "operation", c.op, "url", pageURL, "error", err, "action", "end_iteration")
		c.done = true
		return
	}

	c.page = bundle.Entry
	if next, ok := bundle.NextURL(); ok {
		c.nextURL = c.resolve(next)
	}
}

func (c *Cursor) resolve(link string) string {
	if c.base == nil {
		return link
	}
	u, err := c.base.Parse(link)
	if err != nil {
		return link
	}
	return u.String()
}
