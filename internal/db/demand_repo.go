package db

import (
	"context"
	"encoding/json"

	"pubengine/internal/types"
)

// DemandRequestRepository keeps a durable audit trail of accepted demand
// publish requests. Rows are written once when a request is accepted and are
// never read back by the engine; they exist for operational forensics.
//
// Expected schema:
//
//	CREATE TABLE demand_requests (
//	    request_id  TEXT        PRIMARY KEY,
//	    edition_id  BIGINT      NOT NULL,
//	    generator   TEXT        NOT NULL DEFAULT '',
//	    items       JSONB       NOT NULL,
//	    accepted_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type DemandRequestRepository struct {
	db DBTX
}

// NewDemandRequestRepository creates a DemandRequestRepository over the given
// connection.
func NewDemandRequestRepository(db DBTX) *DemandRequestRepository {
	return &DemandRequestRepository{db: db}
}

// RecordDemandRequest writes the accepted request. Replays of the same
// request id are ignored.
func (r *DemandRequestRepository) RecordDemandRequest(ctx context.Context, work types.DemandWorkItem) error {
	items, err := json.Marshal(work.Items)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "encoding demand items", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO demand_requests (request_id, edition_id, generator, items)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (request_id) DO NOTHING`,
		work.RequestID, int64(work.EditionID), work.Generator, items,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "recording demand request", err)
	}
	return nil
}
