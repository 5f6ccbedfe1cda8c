// Package fhirtest provides an in-memory FHIR server for tests.
package fhirtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/rmax-ai/fhirgraph/pkg/fhir"
)

// DefaultPageSize is the number of entries per search page.
const DefaultPageSize = 2

// Server serves a capability statement, reads and searches over a fixed set
// of resources. Search results are paged with absolute "next" links.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	pageSize   int
	capability *fhir.CapabilityStatement
	order      map[string][]string
	resources  map[string]map[string]map[string]any
	failures   map[string]int
	malformed  map[string]bool
	pageFails  map[string]int
	requests   []*url.URL
}

// NewServer starts a server advertising the given capability statement.
func NewServer(cs *fhir.CapabilityStatement) *Server {
	s := &Server{
		pageSize:   DefaultPageSize,
		capability: cs,
		order:      make(map[string][]string),
		resources:  make(map[string]map[string]map[string]any),
		failures:   make(map[string]int),
		malformed:  make(map[string]bool),
		pageFails:  make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// SetPageSize changes how many entries each search page carries.
func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// Add stores a resource. It must carry resourceType and id.
func (s *Server) Add(resources ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range resources {
		typ, _ := r["resourceType"].(string)
		id, _ := r["id"].(string)
		if s.resources[typ] == nil {
			s.resources[typ] = make(map[string]map[string]any)
		}
		if _, exists := s.resources[typ][id]; !exists {
			s.order[typ] = append(s.order[typ], id)
		}
		s.resources[typ][id] = r
	}
}

// Fail makes every request whose path starts with "/"+prefix answer with status.
func (s *Server) Fail(prefix string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures["/"+prefix] = status
}

// Corrupt makes search page number page (1 based) of resourceType return garbage.
func (s *Server) Corrupt(resourceType string, page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.malformed[resourceType+"#"+strconv.Itoa(page)] = true
}

// FailPage makes search page number page (1 based) of resourceType answer with status.
func (s *Server) FailPage(resourceType string, page, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageFails[resourceType+"#"+strconv.Itoa(page)] = status
}

// Requests returns the urls requested so far.
func (s *Server) Requests() []*url.URL {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*url.URL, len(s.requests))
	copy(out, s.requests)
	return out
}

// Count returns how many requests hit exactly this path.
func (s *Server) Count(path string) int {
	n := 0
	for _, u := range s.Requests() {
		if u.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	u := *r.URL
	s.requests = append(s.requests, &u)
	for prefix, status := range s.failures {
		if strings.HasPrefix(r.URL.Path, prefix) {
			s.mu.Unlock()
			w.WriteHeader(status)
			return
		}
	}
	s.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "metadata":
		writeJSON(w, s.capability)
	case len(parts) == 1:
		s.search(w, r, parts[0])
	case len(parts) == 2:
		s.read(w, parts[0], parts[1])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) read(w http.ResponseWriter, typ, id string) {
	s.mu.Lock()
	res, ok := s.resources[typ][id]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]any{"resourceType": "OperationOutcome"})
		return
	}
	writeJSON(w, res)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, typ string) {
	q := r.URL.Query()
	page := 1
	if p := q.Get("_page"); p != "" {
		page, _ = strconv.Atoi(p)
	}

	s.mu.Lock()
	if status, ok := s.pageFails[typ+"#"+strconv.Itoa(page)]; ok {
		s.mu.Unlock()
		w.WriteHeader(status)
		return
	}
	if s.malformed[typ+"#"+strconv.Itoa(page)] {
		s.mu.Unlock()
		w.Write([]byte(`{"resourceType": "OperationOutcome", "issue": [`))
		return
	}
	var matches []map[string]any
	for _, id := range s.order[typ] {
		res := s.resources[typ][id]
		if matchesQuery(res, q) {
			matches = append(matches, project(res, q.Get("_elements")))
		}
	}
	size := s.pageSize
	s.mu.Unlock()

	start := (page - 1) * size
	end := start + size
	if start > len(matches) {
		start = len(matches)
	}
	if end > len(matches) {
		end = len(matches)
	}

	entries := make([]map[string]any, 0, end-start)
	for _, res := range matches[start:end] {
		entries = append(entries, map[string]any{
			"fullUrl":  s.URL + "/" + typ + "/" + res["id"].(string),
			"resource": res,
		})
	}

	links := []map[string]any{{"relation": "self", "url": s.pageURL(r.URL, page)}}
	if end < len(matches) {
		links = append(links, map[string]any{"relation": "next", "url": s.pageURL(r.URL, page+1)})
	}

	writeJSON(w, map[string]any{
		"resourceType": "Bundle",
		"type":         "searchset",
		"total":        len(matches),
		"link":         links,
		"entry":        entries,
	})
}

func (s *Server) pageURL(base *url.URL, page int) string {
	q := base.Query()
	q.Set("_page", strconv.Itoa(page))
	return s.URL + base.Path + "?" + q.Encode()
}

func matchesQuery(res map[string]any, q url.Values) bool {
	for key, values := range q {
		if strings.HasPrefix(key, "_") {
			continue
		}
		if field, ok := strings.CutSuffix(key, ":missing"); ok {
			_, present := res[field]
			if present != (values[0] == "false") {
				return false
			}
			continue
		}
		if !fieldMatches(res[key], values[0]) {
			return false
		}
	}
	return true
}

func fieldMatches(v any, want string) bool {
	switch val := v.(type) {
	case string:
		return val == want
	case map[string]any:
		ref, _ := val["reference"].(string)
		return ref != "" && (ref == want || strings.HasSuffix(ref, "/"+want))
	case []any:
		for _, item := range val {
			if fieldMatches(item, want) {
				return true
			}
		}
	}
	return false
}

func project(res map[string]any, elements string) map[string]any {
	if elements == "" {
		return res
	}
	out := map[string]any{
		"resourceType": res["resourceType"],
		"id":           res["id"],
	}
	for _, field := range strings.Split(elements, ",") {
		if v, ok := res[field]; ok {
			out[field] = v
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/fhir+json")
	_ = json.NewEncoder(w).Encode(v)
}
