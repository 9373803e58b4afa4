// Package store persists hub configs, documents, and chunks over Postgres
// via pgx, and enforces the sequence and unique-attribute invariants from
// §3 and §4.2 of the spec. It never interprets ciphertext or decrypts
// anything; all attribute values it indexes are opaque HMAC tokens supplied
// by the client.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the minimal executor interface satisfied by both *pgxpool.Pool
// and pgx.Tx, letting callers run a sequence of statements inside a
// transaction without the store package depending on which.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// KeyRef identifies a key by id and type; used for both keyAgreementKey and
// hmac references in HubConfig and IndexedEntry.
type KeyRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// HubConfig is the per-hub configuration record (§3 HubConfig).
type HubConfig struct {
	ID              string   `json:"id"`
	Sequence        int64    `json:"sequence"`
	Controller      string   `json:"controller"`
	Invoker         []string `json:"invoker"`
	Delegator       []string `json:"delegator"`
	ReferenceID     *string  `json:"referenceId,omitempty"`
	KeyAgreementKey KeyRef   `json:"keyAgreementKey"`
	HMAC            KeyRef   `json:"hmac"`
}

// Meta holds the creation/update timestamps maintained by the store.
type Meta struct {
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// ConfigRecord pairs a HubConfig with its store metadata.
type ConfigRecord struct {
	Config HubConfig `json:"config"`
	Meta   Meta      `json:"meta"`
}

// Attribute is one blinded name/value pair inside an IndexedEntry.
type Attribute struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Unique bool   `json:"unique,omitempty"`
}

// IndexedEntry is one blinded index entry attached to a Document.
type IndexedEntry struct {
	HMAC       KeyRef      `json:"hmac"`
	Sequence   int64       `json:"sequence"`
	Attributes []Attribute `json:"attributes"`
}

// Document is a versioned, hub-scoped encrypted document (§3 Document).
type Document struct {
	ID       string          `json:"id"`
	Sequence int64           `json:"sequence"`
	JWE      json.RawMessage `json:"jwe"`
	Indexed  []IndexedEntry  `json:"indexed,omitempty"`
}

// DocRecord pairs a Document with its store metadata.
type DocRecord struct {
	Doc  Document `json:"doc"`
	Meta Meta     `json:"meta"`
}

// Chunk is one byte-range chunk of a document's payload (§3 Chunk).
type Chunk struct {
	DataHubID string          `json:"dataHubId"`
	DocID     string          `json:"docId"`
	Index     int32           `json:"index"`
	Offset    int64           `json:"offset"`
	Sequence  int64           `json:"sequence"`
	JWE       json.RawMessage `json:"jwe"`
}

// ChunkRecord pairs a Chunk with its store metadata.
type ChunkRecord struct {
	Chunk Chunk `json:"chunk"`
	Meta  Meta  `json:"meta"`
}

// Store is the document store (C2), backed by a Postgres connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by the given connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// keyRefJSON marshals a KeyRef for storage in a jsonb column. A KeyRef is
// small and fixed-shape enough that a marshal error here would indicate a
// programming bug, not a runtime condition, so callers are not expected to
// handle it.
func keyRefJSON(k KeyRef) []byte {
	b, err := json.Marshal(k)
	if err != nil {
		panic(fmt.Sprintf("store: marshaling KeyRef: %v", err))
	}
	return b
}

// parseKeyRef unmarshals a KeyRef previously written by keyRefJSON. A scan
// failure here means stored data is corrupt; it is surfaced as a zero value
// rather than panicking since it reflects database state, not caller input.
func parseKeyRef(b []byte) KeyRef {
	var k KeyRef
	_ = json.Unmarshal(b, &k)
	return k
}
