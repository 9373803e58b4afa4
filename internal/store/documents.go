package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaultmesh/datahub/internal/apperr"
)

// InsertDocument creates a new document under hubID. doc.Sequence must be 0.
// Unique-marked attributes are projected into hub_document_unique_attributes
// and enforced via that table's primary key, distinct from the non-unique
// index-entry rows (§4.2, resolving the unique/indexed split).
func (s *Store) InsertDocument(ctx context.Context, hubID string, doc Document) (DocRecord, error) {
	if doc.Sequence != 0 {
		return DocRecord{}, apperr.Data("document.sequence must be 0 on insert, got %d", doc.Sequence)
	}

	now := time.Now().UTC()
	var rec DocRecord
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO hub_documents (id, id_hash, hub_id_hash, sequence, jwe, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			RETURNING created_at, updated_at`,
			doc.ID, hash(doc.ID), hash(hubID), doc.Sequence, []byte(doc.JWE), now)

		if err := row.Scan(&rec.Meta.Created, &rec.Meta.Updated); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return apperr.Duplicate("document %q already exists", doc.ID)
			}
			return apperr.Wrap(apperr.KindData, err, "inserting document")
		}

		if err := insertIndexEntries(ctx, tx, hubID, doc.ID, doc.Indexed); err != nil {
			return err
		}

		rec.Doc = doc
		return nil
	})
	if err != nil {
		return DocRecord{}, err
	}
	return rec, nil
}

func insertIndexEntries(ctx context.Context, tx pgx.Tx, hubID, docID string, entries []IndexedEntry) error {
	hubHash, docHash := hash(hubID), hash(docID)

	for entryIdx, entry := range entries {
		for _, attr := range entry.Attributes {
			_, err := tx.Exec(ctx, `
				INSERT INTO hub_document_index_entries
					(hub_id_hash, doc_id_hash, entry_seq, entry_index, hmac_id, hmac_type, name, value)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				hubHash, docHash, entry.Sequence, entryIdx, entry.HMAC.ID, entry.HMAC.Type, attr.Name, attr.Value)
			if err != nil {
				return apperr.Wrap(apperr.KindData, err, "inserting index entry")
			}

			if attr.Unique {
				token := uniqueAttributeToken(entry.HMAC.ID, attr.Name, attr.Value)
				_, err := tx.Exec(ctx, `
					INSERT INTO hub_document_unique_attributes (hub_id_hash, token, doc_id_hash)
					VALUES ($1, $2, $3)`,
					hubHash, token, docHash)
				if err != nil {
					var pgErr *pgconn.PgError
					if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
						return apperr.Duplicate("attribute %q=%q is not unique within hub", attr.Name, attr.Value)
					}
					return apperr.Wrap(apperr.KindData, err, "inserting unique attribute")
				}
			}
		}
	}
	return nil
}

// GetDocument returns a single document by id, with its indexed entries
// reassembled from storage.
func (s *Store) GetDocument(ctx context.Context, hubID, docID string) (DocRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT sequence, jwe, created_at, updated_at
		FROM hub_documents WHERE hub_id_hash = $1 AND id_hash = $2`, hash(hubID), hash(docID))

	var rec DocRecord
	rec.Doc.ID = docID
	var jwe []byte
	if err := row.Scan(&rec.Doc.Sequence, &jwe, &rec.Meta.Created, &rec.Meta.Updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DocRecord{}, apperr.NotFound("document %q not found", docID)
		}
		return DocRecord{}, apperr.Wrap(apperr.KindData, err, "getting document")
	}
	rec.Doc.JWE = jwe

	entries, err := s.loadIndexEntries(ctx, hubID, docID)
	if err != nil {
		return DocRecord{}, err
	}
	rec.Doc.Indexed = entries
	return rec, nil
}

func (s *Store) loadIndexEntries(ctx context.Context, hubID, docID string) ([]IndexedEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entry_seq, entry_index, hmac_id, hmac_type, name, value
		FROM hub_document_index_entries
		WHERE hub_id_hash = $1 AND doc_id_hash = $2
		ORDER BY entry_index, name`, hash(hubID), hash(docID))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindData, err, "loading index entries")
	}
	defer rows.Close()

	byIndex := map[int32]*IndexedEntry{}
	var order []int32
	for rows.Next() {
		var entryIdx int32
		var attr Attribute
		var hmacRef KeyRef
		var entrySeq int64
		if err := rows.Scan(&entrySeq, &entryIdx, &hmacRef.ID, &hmacRef.Type, &attr.Name, &attr.Value); err != nil {
			return nil, apperr.Wrap(apperr.KindData, err, "scanning index entry")
		}
		e, ok := byIndex[entryIdx]
		if !ok {
			e = &IndexedEntry{HMAC: hmacRef, Sequence: entrySeq}
			byIndex[entryIdx] = e
			order = append(order, entryIdx)
		}
		e.Attributes = append(e.Attributes, attr)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindData, err, "iterating index entries")
	}

	out := make([]IndexedEntry, 0, len(order))
	for _, idx := range order {
		out = append(out, *byIndex[idx])
	}
	return out, nil
}

// UpdateDocument replaces a document's jwe and indexed entries, conditioned
// on the stored sequence being doc.Sequence-1.
func (s *Store) UpdateDocument(ctx context.Context, hubID string, doc Document) error {
	if doc.Sequence <= 0 {
		return apperr.Data("document.sequence must be positive on update, got %d", doc.Sequence)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE hub_documents SET sequence = $4, jwe = $5, updated_at = $6
			WHERE hub_id_hash = $1 AND id_hash = $2 AND sequence = $3`,
			hash(hubID), hash(doc.ID), doc.Sequence-1, doc.Sequence, []byte(doc.JWE), time.Now().UTC())
		if err != nil {
			return apperr.Wrap(apperr.KindData, err, "updating document")
		}
		if tag.RowsAffected() == 0 {
			return apperr.InvalidState("document %q is not at sequence %d", doc.ID, doc.Sequence-1)
		}

		if _, err := tx.Exec(ctx, `
			DELETE FROM hub_document_unique_attributes WHERE hub_id_hash = $1 AND doc_id_hash = $2`,
			hash(hubID), hash(doc.ID)); err != nil {
			return apperr.Wrap(apperr.KindData, err, "clearing unique attributes")
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM hub_document_index_entries WHERE hub_id_hash = $1 AND doc_id_hash = $2`,
			hash(hubID), hash(doc.ID)); err != nil {
			return apperr.Wrap(apperr.KindData, err, "clearing index entries")
		}

		return insertIndexEntries(ctx, tx, hubID, doc.ID, doc.Indexed)
	})
}

// RemoveDocument deletes a document and its index/chunk state. Removing a
// document that does not exist is not an error (idempotent delete).
func (s *Store) RemoveDocument(ctx context.Context, hubID, docID string) error {
	hubHash, docHash := hash(hubID), hash(docID)
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM hub_document_unique_attributes WHERE hub_id_hash = $1 AND doc_id_hash = $2`,
			`DELETE FROM hub_document_index_entries WHERE hub_id_hash = $1 AND doc_id_hash = $2`,
			`DELETE FROM hub_document_chunks WHERE hub_id_hash = $1 AND doc_id_hash = $2`,
			`DELETE FROM hub_documents WHERE hub_id_hash = $1 AND id_hash = $2`,
		} {
			if _, err := tx.Exec(ctx, stmt, hubHash, docHash); err != nil {
				return apperr.Wrap(apperr.KindData, err, "removing document")
			}
		}
		return nil
	})
}

// Pool returns the underlying pool for callers (the query planner) that
// need to run ad hoc SELECTs the store does not otherwise expose.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
