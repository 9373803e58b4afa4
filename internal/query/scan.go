package query

import (
	"github.com/jackc/pgx/v5"

	"github.com/vaultmesh/datahub/internal/apperr"
)

// scanHashes drains rows expected to contain a single doc_id_hash column.
func scanHashes(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, apperr.Wrap(apperr.KindData, err, "scanning doc_id_hash")
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindData, err, "iterating doc_id_hash rows")
	}
	return out, nil
}
