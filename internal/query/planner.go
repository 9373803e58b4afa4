// Package query rewrites blinded has/equals query objects into backend
// lookups against the index entries store package maintains. It never sees
// plaintext: every name and value it handles is already an HMAC-blinded
// token supplied by the caller.
package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/vaultmesh/datahub/internal/apperr"
	"github.com/vaultmesh/datahub/internal/store"
)

// Query is the structural query object accepted from callers (§4.3). It is
// the only query shape the planner accepts; callers cannot express a raw
// backend query through it.
type Query struct {
	Index  string           `json:"index"`
	Equals []map[string]any `json:"equals,omitempty"`
	Has    []string         `json:"has,omitempty"`
}

// Planner executes Query objects against a Store.
type Planner struct {
	store *store.Store
}

// New creates a Planner backed by s.
func New(s *store.Store) *Planner {
	return &Planner{store: s}
}

// Find returns the documents within hubID whose indexed entries satisfy q.
// equals wins over has when both are present (§4.3 rule 4).
func (p *Planner) Find(ctx context.Context, hubID string, q Query) ([]store.DocRecord, error) {
	if q.Index == "" {
		return nil, apperr.Data("query.index is required")
	}

	var docHashes []string
	var err error
	switch {
	case len(q.Equals) > 0:
		docHashes, err = p.findEquals(ctx, hubID, q.Index, q.Equals)
	case len(q.Has) > 0:
		docHashes, err = p.findHas(ctx, hubID, q.Index, q.Has)
	default:
		docHashes, err = p.findIndexOnly(ctx, hubID, q.Index)
	}
	if err != nil {
		return nil, err
	}

	ids, err := p.resolveDocIDs(ctx, hubID, docHashes)
	if err != nil {
		return nil, err
	}

	out := make([]store.DocRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := p.store.GetDocument(ctx, hubID, id)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				// Document was removed between the index scan and the
				// fetch; simply omit it rather than failing the query.
				continue
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (p *Planner) findIndexOnly(ctx context.Context, hubID, index string) ([]string, error) {
	rows, err := p.store.Pool().Query(ctx, `
		SELECT DISTINCT doc_id_hash FROM hub_document_index_entries
		WHERE hub_id_hash = $1 AND hmac_id = $2`, store.Hash(hubID), index)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindData, err, "querying index")
	}
	defer rows.Close()
	return scanHashes(rows)
}

// findHas requires the document to carry all of the named attributes
// somewhere within entries for the given index, not necessarily within a
// single entry.
func (p *Planner) findHas(ctx context.Context, hubID, index string, names []string) ([]string, error) {
	rows, err := p.store.Pool().Query(ctx, `
		SELECT doc_id_hash FROM hub_document_index_entries
		WHERE hub_id_hash = $1 AND hmac_id = $2 AND name = ANY($3)
		GROUP BY doc_id_hash
		HAVING COUNT(DISTINCT name) = $4`,
		store.Hash(hubID), index, names, len(names))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindData, err, "querying has")
	}
	defer rows.Close()
	return scanHashes(rows)
}

// findEquals requires, for at least one element of equalsList, a single
// indexed entry (same entry_index) whose attributes match every (name,
// value) pair in that element. Elements are combined with OR.
func (p *Planner) findEquals(ctx context.Context, hubID, index string, equalsList []map[string]any) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string

	for _, element := range equalsList {
		if len(element) == 0 {
			continue
		}
		names := make([]string, 0, len(element))
		values := make([]string, 0, len(element))
		for name, v := range element {
			s, ok := v.(string)
			if !ok {
				return nil, apperr.Data("equals value for %q must be a string", name)
			}
			names = append(names, name)
			values = append(values, s)
		}

		pairs := make([]string, len(names))
		args := []any{store.Hash(hubID), index}
		for i := range names {
			pairs[i] = fmt.Sprintf("(name = $%d AND value = $%d)", len(args)+1, len(args)+2)
			args = append(args, names[i], values[i])
		}

		sql := fmt.Sprintf(`
			SELECT doc_id_hash FROM hub_document_index_entries
			WHERE hub_id_hash = $1 AND hmac_id = $2 AND (%s)
			GROUP BY doc_id_hash, entry_index
			HAVING COUNT(*) = %d`, strings.Join(pairs, " OR "), len(names))

		rows, err := p.store.Pool().Query(ctx, sql, args...)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindData, err, "querying equals")
		}
		hashes, err := scanHashes(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		for _, h := range hashes {
			if _, ok := seen[h]; !ok {
				seen[h] = struct{}{}
				out = append(out, h)
			}
		}
	}
	return out, nil
}

func (p *Planner) resolveDocIDs(ctx context.Context, hubID string, docHashes []string) ([]string, error) {
	if len(docHashes) == 0 {
		return nil, nil
	}
	rows, err := p.store.Pool().Query(ctx, `
		SELECT id FROM hub_documents WHERE hub_id_hash = $1 AND id_hash = ANY($2)
		ORDER BY sequence`,
		store.Hash(hubID), docHashes)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindData, err, "resolving document ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.KindData, err, "scanning document id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
