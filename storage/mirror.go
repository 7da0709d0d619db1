package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ruteri/esim-operator-registry/interfaces"
)

const mirrorColumns = `id, operation, eid, record_id, args, status, tx_hash, last_error, attempts, created_at, updated_at`

// PendingMirrors returns the unclaimed journal entries not yet accepted by
// the ledger, oldest first. Entries claimed by an in-flight run are excluded.
func (s *SQLiteRegistry) PendingMirrors(ctx context.Context) ([]interfaces.MirrorEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+mirrorColumns+` FROM ledger_mirror WHERE status = ? ORDER BY id`,
		string(interfaces.MirrorPending),
	)
	if err != nil {
		return nil, storageErr("query pending mirrors", err)
	}
	defer rows.Close()

	entries := []interfaces.MirrorEntry{}
	for rows.Next() {
		entry, err := scanMirror(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate pending mirrors", err)
	}
	return entries, nil
}

// GetMirror returns one journal entry or interfaces.ErrNotFound.
func (s *SQLiteRegistry) GetMirror(ctx context.Context, id interfaces.RecordID) (interfaces.MirrorEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mirrorColumns+` FROM ledger_mirror WHERE id = ?`, int64(id))
	entry, err := scanMirror(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return interfaces.MirrorEntry{}, fmt.Errorf("%w: mirror entry %d", interfaces.ErrNotFound, id)
		}
		return interfaces.MirrorEntry{}, err
	}
	return entry, nil
}

// ClaimMirror moves a pending entry to submitting and returns the claimed
// entry. It fails with interfaces.ErrMirrorConflict when the entry is not
// pending, e.g. while another run is submitting it.
func (s *SQLiteRegistry) ClaimMirror(ctx context.Context, id interfaces.RecordID) (interfaces.MirrorEntry, error) {
	var entry interfaces.MirrorEntry
	err := s.write(ctx, func(tx *sql.Tx, now int64) error {
		err := transitionMirror(ctx, tx, id, interfaces.MirrorPending,
			`UPDATE ledger_mirror SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(interfaces.MirrorSubmitting), now,
		)
		if err != nil {
			return err
		}
		entry, err = scanMirror(tx.QueryRowContext(ctx, `SELECT `+mirrorColumns+` FROM ledger_mirror WHERE id = ?`, int64(id)))
		return err
	})
	if err != nil {
		return interfaces.MirrorEntry{}, err
	}
	return entry, nil
}

// ReleaseMirror returns a claimed entry to pending without counting an attempt.
func (s *SQLiteRegistry) ReleaseMirror(ctx context.Context, id interfaces.RecordID) error {
	return s.updateClaimed(ctx, id,
		`UPDATE ledger_mirror SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(interfaces.MirrorPending),
	)
}

// MarkMirrorSubmitted records the transaction hash of an accepted submission.
// Only a claimed entry can be completed, so a recorded hash is never replaced.
func (s *SQLiteRegistry) MarkMirrorSubmitted(ctx context.Context, id interfaces.RecordID, tx interfaces.TxHash) error {
	return s.updateClaimed(ctx, id,
		`UPDATE ledger_mirror
		    SET status = ?, tx_hash = ?, last_error = '', attempts = attempts + 1, updated_at = ?
		  WHERE id = ? AND status = ?`,
		string(interfaces.MirrorSubmitted), tx.Hex(),
	)
}

// MarkMirrorFailed records a failed submission attempt and returns the entry
// to pending.
func (s *SQLiteRegistry) MarkMirrorFailed(ctx context.Context, id interfaces.RecordID, reason string) error {
	return s.updateClaimed(ctx, id,
		`UPDATE ledger_mirror
		    SET status = ?, last_error = ?, attempts = attempts + 1, updated_at = ?
		  WHERE id = ? AND status = ?`,
		string(interfaces.MirrorPending), reason,
	)
}

// MarkMirrorSuperseded retires a claimed entry for good.
func (s *SQLiteRegistry) MarkMirrorSuperseded(ctx context.Context, id interfaces.RecordID, reason string) error {
	return s.updateClaimed(ctx, id,
		`UPDATE ledger_mirror SET status = ?, last_error = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(interfaces.MirrorSuperseded), reason,
	)
}

// updateClaimed runs query with args followed by (updated_at, id, submitting).
func (s *SQLiteRegistry) updateClaimed(ctx context.Context, id interfaces.RecordID, query string, args ...any) error {
	return s.write(ctx, func(tx *sql.Tx, now int64) error {
		return transitionMirror(ctx, tx, id, interfaces.MirrorSubmitting, query, append(args, now)...)
	})
}

// transitionMirror runs query with args followed by (id, from). The query must
// only match the entry while it is in status from.
func transitionMirror(ctx context.Context, tx *sql.Tx, id interfaces.RecordID, from interfaces.MirrorStatus, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, append(args, int64(id), string(from))...)
	if err != nil {
		return storageErr("update mirror entry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update mirror entry", err)
	}
	if n == 1 {
		return nil
	}

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM ledger_mirror WHERE id = ?`, int64(id)).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: mirror entry %d", interfaces.ErrNotFound, id)
	case err != nil:
		return storageErr("read mirror status", err)
	}
	return fmt.Errorf("%w: mirror entry %d is %s, not %s", interfaces.ErrMirrorConflict, id, status, from)
}

func releaseMirrorClaims(ctx context.Context, db *sql.DB) (int64, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE ledger_mirror SET status = ?, updated_at = ? WHERE status = ?`,
		string(interfaces.MirrorPending), toMillis(time.Now()), string(interfaces.MirrorSubmitting),
	)
	if err != nil {
		return 0, storageErr("release mirror claims", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("release mirror claims", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMirror(row rowScanner) (interfaces.MirrorEntry, error) {
	var (
		entry                interfaces.MirrorEntry
		operation, status    string
		args                 string
		createdAt, updatedAt int64
	)
	err := row.Scan(&entry.ID, &operation, &entry.EID, &entry.RecordID, &args, &status,
		&entry.TxHash, &entry.LastError, &entry.Attempts, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return interfaces.MirrorEntry{}, err
		}
		return interfaces.MirrorEntry{}, storageErr("scan mirror entry", err)
	}
	if err := json.Unmarshal([]byte(args), &entry.Args); err != nil {
		return interfaces.MirrorEntry{}, storageErr("decode mirror args", err)
	}
	entry.Operation = interfaces.LedgerOperation(operation)
	entry.Status = interfaces.MirrorStatus(status)
	entry.CreatedAt = fromMillis(createdAt)
	entry.UpdatedAt = fromMillis(updatedAt)
	return entry, nil
}
