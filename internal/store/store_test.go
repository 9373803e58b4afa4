package store

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaultmesh/datahub/internal/apperr"
	"github.com/vaultmesh/datahub/internal/identifier"
)

// newTestStore connects to a throwaway Postgres instance named by
// TEST_DATABASE_URL and truncates all hub tables before returning. Tests
// are skipped when the variable is unset, since no Postgres mock is wired
// into this module.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping store integration test")
	}

	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)

	for _, table := range []string{
		"hub_document_unique_attributes",
		"hub_document_index_entries",
		"hub_document_chunks",
		"hub_documents",
		"hub_configs",
	} {
		if _, err := pool.Exec(context.Background(), "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			t.Fatalf("truncating %s: %v", table, err)
		}
	}

	return New(pool)
}

func newTestConfig(t *testing.T) HubConfig {
	t.Helper()
	id, err := identifier.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return HubConfig{
		ID:         id,
		Controller: "did:key:z6MkController",
		Invoker:    []string{"did:key:z6MkInvoker"},
		Delegator:  []string{"did:key:z6MkInvoker"},
		KeyAgreementKey: KeyRef{
			ID:   id + "#key-agreement",
			Type: "X25519KeyAgreementKey2020",
		},
		HMAC: KeyRef{
			ID:   id + "#hmac",
			Type: "Sha256HmacKey2019",
		},
	}
}

func TestInsertGetConfig(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cfg := newTestConfig(t)

	rec, err := s.InsertConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("InsertConfig: %v", err)
	}
	if rec.Meta.Created.IsZero() {
		t.Error("expected non-zero Created")
	}

	got, err := s.GetConfig(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if got.Config.Controller != cfg.Controller {
		t.Errorf("Controller = %q, want %q", got.Config.Controller, cfg.Controller)
	}
	if got.Config.Sequence != 0 {
		t.Errorf("Sequence = %d, want 0", got.Config.Sequence)
	}
}

func TestInsertConfigRejectsNonZeroSequence(t *testing.T) {
	s := newTestStore(t)
	cfg := newTestConfig(t)
	cfg.Sequence = 1

	_, err := s.InsertConfig(context.Background(), cfg)
	if !apperr.Is(err, apperr.KindData) {
		t.Fatalf("InsertConfig error = %v, want data error", err)
	}
}

func TestInsertConfigDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cfg := newTestConfig(t)

	if _, err := s.InsertConfig(ctx, cfg); err != nil {
		t.Fatalf("InsertConfig: %v", err)
	}
	if _, err := s.InsertConfig(ctx, cfg); !apperr.Is(err, apperr.KindDuplicate) {
		t.Fatalf("second InsertConfig error = %v, want duplicate", err)
	}
}

func TestUpdateConfigSequenceGating(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cfg := newTestConfig(t)

	if _, err := s.InsertConfig(ctx, cfg); err != nil {
		t.Fatalf("InsertConfig: %v", err)
	}

	cfg.Sequence = 1
	cfg.Invoker = append(cfg.Invoker, "did:key:z6MkSecondInvoker")
	if err := s.UpdateConfig(ctx, cfg); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	// Replaying the same update (stale sequence) must fail, not panic.
	if err := s.UpdateConfig(ctx, cfg); !apperr.Is(err, apperr.KindInvalidState) {
		t.Fatalf("stale UpdateConfig error = %v, want invalid_state", err)
	}

	got, err := s.GetConfig(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if len(got.Config.Invoker) != 2 {
		t.Errorf("Invoker len = %d, want 2", len(got.Config.Invoker))
	}
}

func TestGetConfigNotFound(t *testing.T) {
	s := newTestStore(t)
	id, _ := identifier.Generate()
	_, err := s.GetConfig(context.Background(), id)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("GetConfig error = %v, want not_found", err)
	}
}

func TestFindConfigByControllerAndReferenceID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ref := "acct-42"
	cfg := newTestConfig(t)
	cfg.ReferenceID = &ref
	if _, err := s.InsertConfig(ctx, cfg); err != nil {
		t.Fatalf("InsertConfig: %v", err)
	}

	other := newTestConfig(t)
	if _, err := s.InsertConfig(ctx, other); err != nil {
		t.Fatalf("InsertConfig other: %v", err)
	}

	all, err := s.FindConfig(ctx, cfg.Controller, "")
	if err != nil {
		t.Fatalf("FindConfig: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("FindConfig len = %d, want 2", len(all))
	}

	filtered, err := s.FindConfig(ctx, cfg.Controller, ref)
	if err != nil {
		t.Fatalf("FindConfig filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Config.ID != cfg.ID {
		t.Fatalf("FindConfig filtered = %+v, want only %q", filtered, cfg.ID)
	}
}

func TestDocumentInsertUpdateSequenceGating(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cfg := newTestConfig(t)
	if _, err := s.InsertConfig(ctx, cfg); err != nil {
		t.Fatalf("InsertConfig: %v", err)
	}

	docID, _ := identifier.Generate()
	doc := Document{
		ID:  docID,
		JWE: []byte(`{"protected":"eyJlbmMiOiJBMjU2R0NNIn0"}`),
		Indexed: []IndexedEntry{{
			HMAC:       KeyRef{ID: cfg.HMAC.ID, Type: cfg.HMAC.Type},
			Sequence:   0,
			Attributes: []Attribute{{Name: "name", Value: "blinded-value-1", Unique: true}},
		}},
	}

	if _, err := s.InsertDocument(ctx, cfg.ID, doc); err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}

	got, err := s.GetDocument(ctx, cfg.ID, docID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if len(got.Doc.Indexed) != 1 || len(got.Doc.Indexed[0].Attributes) != 1 {
		t.Fatalf("GetDocument indexed = %+v", got.Doc.Indexed)
	}

	doc.Sequence = 1
	doc.JWE = []byte(`{"protected":"eyJlbmMiOiJBMjU2R0NNIn0-updated"}`)
	if err := s.UpdateDocument(ctx, cfg.ID, doc); err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}
	if err := s.UpdateDocument(ctx, cfg.ID, doc); !apperr.Is(err, apperr.KindInvalidState) {
		t.Fatalf("stale UpdateDocument error = %v, want invalid_state", err)
	}
}

func TestDocumentUniqueAttributeEnforced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cfg := newTestConfig(t)
	if _, err := s.InsertConfig(ctx, cfg); err != nil {
		t.Fatalf("InsertConfig: %v", err)
	}

	attrs := []IndexedEntry{{
		HMAC:       KeyRef{ID: cfg.HMAC.ID, Type: cfg.HMAC.Type},
		Attributes: []Attribute{{Name: "email", Value: "same-blinded-token", Unique: true}},
	}}

	id1, _ := identifier.Generate()
	if _, err := s.InsertDocument(ctx, cfg.ID, Document{ID: id1, JWE: []byte("{}"), Indexed: attrs}); err != nil {
		t.Fatalf("InsertDocument first: %v", err)
	}

	id2, _ := identifier.Generate()
	_, err := s.InsertDocument(ctx, cfg.ID, Document{ID: id2, JWE: []byte("{}"), Indexed: attrs})
	if !apperr.Is(err, apperr.KindDuplicate) {
		t.Fatalf("second InsertDocument error = %v, want duplicate", err)
	}
}

func TestChunkLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cfg := newTestConfig(t)
	if _, err := s.InsertConfig(ctx, cfg); err != nil {
		t.Fatalf("InsertConfig: %v", err)
	}
	docID, _ := identifier.Generate()
	if _, err := s.InsertDocument(ctx, cfg.ID, Document{ID: docID, JWE: []byte("{}")}); err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}

	// document was inserted at sequence 0: a chunk must be written at that
	// same sequence, and writing it again at the same sequence is not a
	// conflict (last write wins, no chunk-level optimistic key).
	chunk := Chunk{DataHubID: cfg.ID, DocID: docID, Index: 0, Offset: 0, Sequence: 0, JWE: []byte(`{"ciphertext":"..."}`)}
	if err := s.UpdateChunk(ctx, chunk); err != nil {
		t.Fatalf("UpdateChunk create: %v", err)
	}
	chunk.JWE = []byte(`{"ciphertext":"still at seq 0"}`)
	if err := s.UpdateChunk(ctx, chunk); err != nil {
		t.Fatalf("UpdateChunk rewrite at same sequence: %v", err)
	}

	stale := chunk
	stale.Sequence = 7
	if err := s.UpdateChunk(ctx, stale); !apperr.Is(err, apperr.KindInvalidState) {
		t.Fatalf("UpdateChunk with sequence ahead of document error = %v, want invalid state", err)
	}

	// advance the document's sequence; the chunk must now follow it.
	doc := Document{ID: docID, Sequence: 1, JWE: []byte("{}")}
	if err := s.UpdateDocument(ctx, cfg.ID, doc); err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}

	if err := s.UpdateChunk(ctx, chunk); !apperr.Is(err, apperr.KindInvalidState) {
		t.Fatalf("UpdateChunk at stale document sequence error = %v, want invalid state", err)
	}

	chunk.Sequence = 1
	chunk.JWE = []byte(`{"ciphertext":"updated"}`)
	if err := s.UpdateChunk(ctx, chunk); err != nil {
		t.Fatalf("UpdateChunk at advanced sequence: %v", err)
	}

	got, err := s.GetChunk(ctx, cfg.ID, docID, 0)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if got.Chunk.Sequence != 1 {
		t.Fatalf("Chunk.Sequence = %d, want 1", got.Chunk.Sequence)
	}

	noSuchDoc, _ := identifier.Generate()
	orphan := Chunk{DataHubID: cfg.ID, DocID: noSuchDoc, Index: 0, Sequence: 0, JWE: []byte("{}")}
	if err := s.UpdateChunk(ctx, orphan); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("UpdateChunk for missing document error = %v, want not found", err)
	}

	if err := s.RemoveChunk(ctx, cfg.ID, docID, 0); err != nil {
		t.Fatalf("RemoveChunk: %v", err)
	}
	// Removing again (chunk and even the parent document already gone) must
	// not error: removeChunk never validates parent document existence.
	if err := s.RemoveDocument(ctx, cfg.ID, docID); err != nil {
		t.Fatalf("RemoveDocument: %v", err)
	}
	if err := s.RemoveChunk(ctx, cfg.ID, docID, 0); err != nil {
		t.Fatalf("RemoveChunk after document removal: %v", err)
	}
}
