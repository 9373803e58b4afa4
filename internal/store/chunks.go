package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vaultmesh/datahub/internal/apperr"
)

// UpdateChunk upserts a chunk coherent with its parent document's current
// sequence: chunk.Sequence must equal the document's stored sequence at write
// time, or the call fails InvalidStateError. There is no chunk-level
// optimistic key — once the parent sequence gate passes, the chunk row is
// upserted unconditionally by (hubId, docId, index).
func (s *Store) UpdateChunk(ctx context.Context, chunk Chunk) error {
	now := time.Now().UTC()
	hubHash, docHash := hash(chunk.DataHubID), hash(chunk.DocID)

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var docSeq int64
		err := tx.QueryRow(ctx,
			`SELECT sequence FROM hub_documents WHERE hub_id_hash = $1 AND id_hash = $2`,
			hubHash, docHash).Scan(&docSeq)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.NotFound("document %q not found", chunk.DocID)
			}
			return apperr.Wrap(apperr.KindData, err, "loading parent document sequence")
		}
		if chunk.Sequence != docSeq {
			return apperr.InvalidState("chunk %d of document %q has sequence %d, document is at sequence %d",
				chunk.Index, chunk.DocID, chunk.Sequence, docSeq)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO hub_document_chunks
				(hub_id_hash, doc_id_hash, chunk_index, chunk_offset, sequence, jwe, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (hub_id_hash, doc_id_hash, chunk_index) DO UPDATE SET
				chunk_offset = EXCLUDED.chunk_offset,
				sequence     = EXCLUDED.sequence,
				jwe          = EXCLUDED.jwe,
				updated_at   = EXCLUDED.updated_at`,
			hubHash, docHash, chunk.Index, chunk.Offset, chunk.Sequence, []byte(chunk.JWE), now)
		if err != nil {
			return apperr.Wrap(apperr.KindData, err, "upserting chunk")
		}
		return nil
	})
}

// GetChunk returns a single chunk by (docId, index).
func (s *Store) GetChunk(ctx context.Context, hubID, docID string, index int32) (ChunkRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT chunk_offset, sequence, jwe, created_at, updated_at
		FROM hub_document_chunks
		WHERE hub_id_hash = $1 AND doc_id_hash = $2 AND chunk_index = $3`,
		hash(hubID), hash(docID), index)

	var rec ChunkRecord
	rec.Chunk.DataHubID = hubID
	rec.Chunk.DocID = docID
	rec.Chunk.Index = index
	var jwe []byte
	if err := row.Scan(&rec.Chunk.Offset, &rec.Chunk.Sequence, &jwe, &rec.Meta.Created, &rec.Meta.Updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChunkRecord{}, apperr.NotFound("chunk %d of document %q not found", index, docID)
		}
		return ChunkRecord{}, apperr.Wrap(apperr.KindData, err, "getting chunk")
	}
	rec.Chunk.JWE = jwe
	return rec, nil
}

// RemoveChunk deletes a chunk. It deliberately does not validate that the
// parent document still exists, matching the source behavior exactly
// (§9 Open Question (b)): a chunk can be removed independently of its
// document's lifecycle.
func (s *Store) RemoveChunk(ctx context.Context, hubID, docID string, index int32) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM hub_document_chunks
		WHERE hub_id_hash = $1 AND doc_id_hash = $2 AND chunk_index = $3`,
		hash(hubID), hash(docID), index)
	if err != nil {
		return apperr.Wrap(apperr.KindData, err, "removing chunk")
	}
	return nil
}
