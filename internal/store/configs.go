package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vaultmesh/datahub/internal/apperr"
)

const uniqueViolation = "23505"

// InsertConfig creates a new hub config. The config's sequence must be 0;
// any other value is a DataError (it is the caller's fault, not a race).
func (s *Store) InsertConfig(ctx context.Context, cfg HubConfig) (ConfigRecord, error) {
	if cfg.Sequence != 0 {
		return ConfigRecord{}, apperr.Data("config.sequence must be 0 on insert, got %d", cfg.Sequence)
	}

	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO hub_configs (
			id, id_hash, sequence, controller, controller_hash, invoker,
			delegator, reference_id, key_agreement_key, hmac, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING created_at, updated_at`,
		cfg.ID, hash(cfg.ID), cfg.Sequence, cfg.Controller, hash(cfg.Controller),
		cfg.Invoker, cfg.Delegator, cfg.ReferenceID,
		keyRefJSON(cfg.KeyAgreementKey), keyRefJSON(cfg.HMAC), now,
	)

	var meta Meta
	if err := row.Scan(&meta.Created, &meta.Updated); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ConfigRecord{}, apperr.Duplicate("hub config %q already exists", cfg.ID)
		}
		return ConfigRecord{}, apperr.Wrap(apperr.KindData, err, "inserting hub config")
	}

	return ConfigRecord{Config: cfg, Meta: meta}, nil
}

// UpdateConfig performs the conditional update WHERE id = hash(id) AND
// stored.sequence = config.sequence - 1. Zero rows matched is an
// InvalidStateError, not a panic (§9 Open Question (a)).
func (s *Store) UpdateConfig(ctx context.Context, cfg HubConfig) error {
	if cfg.Sequence <= 0 {
		return apperr.Data("config.sequence must be positive on update, got %d", cfg.Sequence)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE hub_configs SET
			sequence = $3, invoker = $4, delegator = $5, reference_id = $6,
			key_agreement_key = $7, hmac = $8, updated_at = $9
		WHERE id_hash = $1 AND sequence = $2`,
		hash(cfg.ID), cfg.Sequence-1, cfg.Sequence, cfg.Invoker, cfg.Delegator,
		cfg.ReferenceID, keyRefJSON(cfg.KeyAgreementKey), keyRefJSON(cfg.HMAC), time.Now().UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperr.Duplicate("reference id already in use for controller")
		}
		return apperr.Wrap(apperr.KindData, err, "updating hub config")
	}
	if tag.RowsAffected() == 0 {
		return apperr.InvalidState("hub config %q is not at sequence %d", cfg.ID, cfg.Sequence-1)
	}
	return nil
}

// GetConfig returns a single hub config by id.
func (s *Store) GetConfig(ctx context.Context, id string) (ConfigRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT controller, sequence, invoker, delegator, reference_id,
			key_agreement_key, hmac, created_at, updated_at
		FROM hub_configs WHERE id_hash = $1`, hash(id))

	var rec ConfigRecord
	rec.Config.ID = id
	var kak, hm []byte
	if err := row.Scan(&rec.Config.Controller, &rec.Config.Sequence, &rec.Config.Invoker,
		&rec.Config.Delegator, &rec.Config.ReferenceID, &kak, &hm,
		&rec.Meta.Created, &rec.Meta.Updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConfigRecord{}, apperr.NotFound("hub config %q not found", id)
		}
		return ConfigRecord{}, apperr.Wrap(apperr.KindData, err, "getting hub config")
	}
	rec.Config.KeyAgreementKey = parseKeyRef(kak)
	rec.Config.HMAC = parseKeyRef(hm)
	return rec, nil
}

// FindConfig lists hub configs for a controller, optionally filtered by
// reference id. controller is always forced into the predicate (§4.2).
func (s *Store) FindConfig(ctx context.Context, controller, referenceID string) ([]ConfigRecord, error) {
	var rows pgx.Rows
	var err error
	if referenceID != "" {
		rows, err = s.pool.Query(ctx, `
			SELECT id, sequence, invoker, delegator, reference_id,
				key_agreement_key, hmac, created_at, updated_at
			FROM hub_configs WHERE controller_hash = $1 AND reference_id = $2`,
			hash(controller), referenceID)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, sequence, invoker, delegator, reference_id,
				key_agreement_key, hmac, created_at, updated_at
			FROM hub_configs WHERE controller_hash = $1`, hash(controller))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindData, err, "finding hub configs")
	}
	defer rows.Close()

	var out []ConfigRecord
	for rows.Next() {
		var rec ConfigRecord
		rec.Config.Controller = controller
		var kak, hm []byte
		if err := rows.Scan(&rec.Config.ID, &rec.Config.Sequence, &rec.Config.Invoker,
			&rec.Config.Delegator, &rec.Config.ReferenceID, &kak, &hm,
			&rec.Meta.Created, &rec.Meta.Updated); err != nil {
			return nil, apperr.Wrap(apperr.KindData, err, "scanning hub config")
		}
		rec.Config.KeyAgreementKey = parseKeyRef(kak)
		rec.Config.HMAC = parseKeyRef(hm)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindData, err, "iterating hub configs")
	}
	return out, nil
}
