package db

import (
	"context"

	"pubengine/internal/types"
)

// LedgerRepository is the PostgreSQL-backed types.Ledger. The unique index
// on (target_id, content_id, change_type) enforces the dedup invariant; the
// idempotent insert rides ON CONFLICT DO NOTHING, so concurrent inserts of
// the same tuple are safe without application-level locking.
//
// Expected schema:
//
//	CREATE TABLE pending_changes (
//	    target_id   BIGINT      NOT NULL,
//	    content_id  BIGINT      NOT NULL,
//	    change_type TEXT        NOT NULL,
//	    inserted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (target_id, content_id, change_type)
//	);
type LedgerRepository struct {
	db DBTX
}

var _ types.Ledger = (*LedgerRepository)(nil)

// NewLedgerRepository creates a LedgerRepository over the given connection.
func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// RecordChange performs the idempotent insert. Returns true when a new row
// was created.
func (r *LedgerRepository) RecordChange(ctx context.Context, target types.TargetID, content types.ContentID, change types.ChangeType) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO pending_changes (target_id, content_id, change_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (target_id, content_id, change_type) DO NOTHING`,
		int64(target), int64(content), string(change),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "inserting pending change", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ChangedContent returns the distinct content ids recorded for the target
// and change type, ascending.
func (r *LedgerRepository) ChangedContent(ctx context.Context, target types.TargetID, change types.ChangeType) ([]types.ContentID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT content_id FROM pending_changes
		WHERE target_id = $1 AND change_type = $2
		ORDER BY content_id`,
		int64(target), string(change),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "querying pending changes", err)
	}
	defer rows.Close()

	var out []types.ContentID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "scanning pending change", err)
		}
		out = append(out, types.ContentID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "reading pending changes", err)
	}
	return out, nil
}

// Snapshot returns the full records for the target and change type, ordered
// by content id.
func (r *LedgerRepository) Snapshot(ctx context.Context, target types.TargetID, change types.ChangeType) ([]types.PendingChangeRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT target_id, content_id, change_type, inserted_at
		FROM pending_changes
		WHERE target_id = $1 AND change_type = $2
		ORDER BY content_id`,
		int64(target), string(change),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "querying ledger snapshot", err)
	}
	defer rows.Close()

	var out []types.PendingChangeRecord
	for rows.Next() {
		var (
			rec        types.PendingChangeRecord
			targetID   int64
			contentID  int64
			changeType string
		)
		if err := rows.Scan(&targetID, &contentID, &changeType, &rec.InsertedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "scanning ledger snapshot", err)
		}
		rec.TargetID = types.TargetID(targetID)
		rec.ContentID = types.ContentID(contentID)
		rec.ChangeType = types.ChangeType(changeType)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "reading ledger snapshot", err)
	}
	return out, nil
}

// ClearRecorded deletes exactly the given records. Rows inserted after the
// caller's snapshot are untouched.
func (r *LedgerRepository) ClearRecorded(ctx context.Context, target types.TargetID, records []types.PendingChangeRecord) error {
	if len(records) == 0 {
		return nil
	}

	byChange := make(map[types.ChangeType][]int64)
	for _, rec := range records {
		byChange[rec.ChangeType] = append(byChange[rec.ChangeType], int64(rec.ContentID))
	}

	for change, ids := range byChange {
		_, err := r.db.Exec(ctx, `
			DELETE FROM pending_changes
			WHERE target_id = $1 AND change_type = $2 AND content_id = ANY($3)`,
			int64(target), string(change), ids,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "clearing recorded changes", err)
		}
	}
	return nil
}

// ClearTarget deletes every record for the target.
func (r *LedgerRepository) ClearTarget(ctx context.Context, target types.TargetID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM pending_changes WHERE target_id = $1`, int64(target))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "clearing target", err)
	}
	return nil
}
