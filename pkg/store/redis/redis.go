// Package redis publishes the edge schema to Redis so that every daemon
// replica can load the same copy at startup.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rmax-ai/fhirgraph/pkg/schema"
)

// DefaultKey is where the schema document lives unless configured otherwise.
const DefaultKey = "fhirgraph:schema"

const historyLen = 10

// ErrNoSchema is returned by Load when nothing has been published under the key.
var ErrNoSchema = errors.New("no schema published")

// Publication describes the schema currently stored under a key.
type Publication struct {
	RunID       string
	SourceURL   string
	PublishedAt time.Time
	Edges       int
}

// SchemaStore reads and writes the YAML schema document. The document is
// byte for byte what schema.Save writes to disk.
type SchemaStore struct {
	client *redis.Client
	key    string
}

// NewSchemaStore creates a store writing under key, or DefaultKey when empty.
func NewSchemaStore(client *redis.Client, key string) *SchemaStore {
	if key == "" {
		key = DefaultKey
	}
	return &SchemaStore{client: client, key: key}
}

func (s *SchemaStore) metaKey() string    { return s.key + ":meta" }
func (s *SchemaStore) historyKey() string { return s.key + ":history" }

// Publish replaces the stored schema and its metadata atomically.
func (s *SchemaStore) Publish(ctx context.Context, edges *schema.EdgeSchema, pub Publication) error {
	data, err := edges.Marshal()
	if err != nil {
		return err
	}
	if pub.PublishedAt.IsZero() {
		pub.PublishedAt = time.Now()
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key, data, 0)
		p.HSet(ctx, s.metaKey(),
			"run_id", pub.RunID,
			"source_url", pub.SourceURL,
			"published_at", pub.PublishedAt.UTC().Format(time.RFC3339Nano),
			"edges", edges.Len(),
		)
		if pub.RunID != "" {
			p.LPush(ctx, s.historyKey(), pub.RunID)
			p.LTrim(ctx, s.historyKey(), 0, historyLen-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish schema to %s: %w", s.key, err)
	}
	slog.Info("schema_published", "key", s.key, "edges", edges.Len(), "run_id", pub.RunID)
	return nil
}

// Load fetches and validates the published schema.
func (s *SchemaStore) Load(ctx context.Context) (*schema.EdgeSchema, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%s: %w", s.key, ErrNoSchema)
		}
		return nil, fmt.Errorf("failed to GET %s: %w", s.key, err)
	}
	return schema.Unmarshal(data)
}

// Info returns the metadata written by the last Publish.
func (s *SchemaStore) Info(ctx context.Context) (Publication, error) {
	vals, err := s.client.HGetAll(ctx, s.metaKey()).Result()
	if err != nil {
		return Publication{}, fmt.Errorf("failed to HGETALL %s: %w", s.metaKey(), err)
	}
	if len(vals) == 0 {
		return Publication{}, fmt.Errorf("%s: %w", s.key, ErrNoSchema)
	}

	pub := Publication{RunID: vals["run_id"], SourceURL: vals["source_url"]}
	if ts := vals["published_at"]; ts != "" {
		if pub.PublishedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return Publication{}, fmt.Errorf("invalid published_at %q: %w", ts, err)
		}
	}
	if _, err := fmt.Sscan(vals["edges"], &pub.Edges); err != nil {
		return Publication{}, fmt.Errorf("invalid edges count %q: %w", vals["edges"], err)
	}
	return pub, nil
}

// History lists the run ids of recent publications, newest first.
func (s *SchemaStore) History(ctx context.Context) ([]string, error) {
	ids, err := s.client.LRange(ctx, s.historyKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to LRANGE %s: %w", s.historyKey(), err)
	}
	return ids, nil
}
