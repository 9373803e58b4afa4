package capability

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaultmesh/datahub/internal/apperr"
	"github.com/vaultmesh/datahub/internal/store"
)

const uniqueViolation = "23505"

// DelegationStore persists delegated capabilities (zCaps granted by a root
// delegator to some other invoker/delegator chain) keyed by (id,
// invocationTarget), as required by C5 step 5.
type DelegationStore struct {
	pool *pgxpool.Pool
}

// NewDelegationStore creates a DelegationStore backed by pool.
func NewDelegationStore(pool *pgxpool.Pool) *DelegationStore {
	return &DelegationStore{pool: pool}
}

// Insert stores a delegated capability once actor is confirmed as a root
// delegator of cfg's hub. The capability's delegation proof is not verified,
// neither here nor by the HTTP handler that calls Insert.
func (d *DelegationStore) Insert(ctx context.Context, hubID string, cfg store.HubConfig, actor string, cap ZCap) error {
	if err := RequireRootDelegator(cfg, actor); err != nil {
		return err
	}

	body, err := json.Marshal(cap)
	if err != nil {
		return apperr.Wrap(apperr.KindData, err, "marshaling delegated capability")
	}

	_, err = d.pool.Exec(ctx, `
		INSERT INTO delegated_capabilities
			(hub_id_hash, id, invocation_target, controller, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		store.Hash(hubID), cap.ID, cap.InvocationTarget, cap.Controller, body, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperr.Duplicate("delegated capability %q already exists", cap.ID)
		}
		return apperr.Wrap(apperr.KindData, err, "inserting delegated capability")
	}
	return nil
}

// Get fetches the delegated capability keyed by (id, invocationTarget),
// exactly the lookup C5 performs when the invoked capability does not equal
// the expected root capability.
func (d *DelegationStore) Get(ctx context.Context, hubID, id, invocationTarget string) (ZCap, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT body FROM delegated_capabilities
		WHERE hub_id_hash = $1 AND id = $2 AND invocation_target = $3`,
		store.Hash(hubID), id, invocationTarget)

	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ZCap{}, apperr.NotAllowed("no delegated capability for this target")
		}
		return ZCap{}, apperr.Wrap(apperr.KindData, err, "getting delegated capability")
	}

	var cap ZCap
	if err := json.Unmarshal(body, &cap); err != nil {
		return ZCap{}, apperr.Wrap(apperr.KindData, err, "unmarshaling delegated capability")
	}
	return cap, nil
}

// FindByID returns a single delegated capability by id within the hub,
// regardless of invocation target, for the GET /authorizations?id= route.
func (d *DelegationStore) FindByID(ctx context.Context, hubID, id string) (ZCap, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT body FROM delegated_capabilities WHERE hub_id_hash = $1 AND id = $2`,
		store.Hash(hubID), id)

	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ZCap{}, apperr.NotFound("delegated capability %q not found", id)
		}
		return ZCap{}, apperr.Wrap(apperr.KindData, err, "getting delegated capability")
	}

	var cap ZCap
	if err := json.Unmarshal(body, &cap); err != nil {
		return ZCap{}, apperr.Wrap(apperr.KindData, err, "unmarshaling delegated capability")
	}
	return cap, nil
}

// List returns every delegated capability controlled by actor within hubID.
func (d *DelegationStore) List(ctx context.Context, hubID, actor string) ([]ZCap, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT body FROM delegated_capabilities WHERE hub_id_hash = $1 AND controller = $2`,
		store.Hash(hubID), actor)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindData, err, "listing delegated capabilities")
	}
	defer rows.Close()

	var out []ZCap
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, apperr.Wrap(apperr.KindData, err, "scanning delegated capability")
		}
		var cap ZCap
		if err := json.Unmarshal(body, &cap); err != nil {
			return nil, apperr.Wrap(apperr.KindData, err, "unmarshaling delegated capability")
		}
		out = append(out, cap)
	}
	return out, rows.Err()
}

// Remove deletes the delegated capability by id. Only a current root
// delegator of the hub may call this (§4.4).
func (d *DelegationStore) Remove(ctx context.Context, hubID string, cfg store.HubConfig, actor, id string) error {
	if err := RequireRootDelegator(cfg, actor); err != nil {
		return err
	}

	tag, err := d.pool.Exec(ctx, `
		DELETE FROM delegated_capabilities WHERE hub_id_hash = $1 AND id = $2`,
		store.Hash(hubID), id)
	if err != nil {
		return apperr.Wrap(apperr.KindData, err, "removing delegated capability")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("delegated capability %q not found", id)
	}
	return nil
}
