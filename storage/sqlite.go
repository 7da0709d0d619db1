package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/ruteri/esim-operator-registry/interfaces"
	"github.com/ruteri/esim-operator-registry/storage/migrations"
)

// SQLiteRegistry implements interfaces.DeviceRegistry on a SQLite database.
//
// Writes are serialized by writeMu and run in immediate transactions, so the
// read-modify-write of ApplyChange never interleaves with another write.
// Reads run concurrently thanks to WAL journaling.
type SQLiteRegistry struct {
	db      *sql.DB
	writeMu sync.Mutex
	now     func() time.Time
	log     *slog.Logger
}

// NewSQLiteRegistry opens (creating if needed) the registry database at path
// and applies the embedded migrations.
func NewSQLiteRegistry(path string, log *slog.Logger) (*SQLiteRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	// No run survives a restart, so leftover claims go back to the operator.
	released, err := releaseMirrorClaims(context.Background(), db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if released > 0 {
		log.Warn("Released ledger mirror claims left by a previous run", "count", released)
	}

	log.Debug("Device registry opened", "path", path)

	return &SQLiteRegistry{
		db:  db,
		now: time.Now,
		log: log,
	}, nil
}

// Close closes the database handle.
func (s *SQLiteRegistry) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Register inserts the device, its key and the registerDevice mirror entry
// in one transaction. The mirror entry starts claimed by the caller.
// Returns interfaces.ErrDuplicate if eid is registered.
func (s *SQLiteRegistry) Register(ctx context.Context, device interfaces.Device, pubkey common.Address) (interfaces.RecordID, interfaces.MirrorEntry, error) {
	var (
		id     interfaces.RecordID
		mirror interfaces.MirrorEntry
	)

	err := s.write(ctx, func(tx *sql.Tx, now int64) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO devices (eid, iccid, mno, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			device.EID, device.ICCID, device.MNO, now, now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: eid %s already registered", interfaces.ErrDuplicate, device.EID)
			}
			return storageErr("insert device", err)
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return storageErr("device id", err)
		}
		id = interfaces.RecordID(rowID)

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO device_keys (eid, pubkey, created_at) VALUES (?, ?, ?)`,
			device.EID, pubkey.Hex(), now,
		); err != nil {
			return storageErr("insert device key", err)
		}

		mirror, err = insertMirror(ctx, tx, interfaces.OpRegisterDevice, id, interfaces.MirrorArgs{
			EID:    device.EID,
			ICCID:  device.ICCID,
			MNO:    device.MNO,
			Pubkey: pubkey.Hex(),
		}, now)
		return err
	})
	if err != nil {
		return 0, interfaces.MirrorEntry{}, err
	}

	return id, mirror, nil
}

// GetCurrent returns the current (iccid, mno) of the device.
func (s *SQLiteRegistry) GetCurrent(ctx context.Context, eid string) (interfaces.Device, error) {
	var device interfaces.Device
	err := s.db.QueryRowContext(ctx,
		`SELECT id, eid, iccid, mno FROM devices WHERE eid = ?`, eid,
	).Scan(&device.ID, &device.EID, &device.ICCID, &device.MNO)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return interfaces.Device{}, fmt.Errorf("%w: device %s", interfaces.ErrNotFound, eid)
		}
		return interfaces.Device{}, storageErr("get device", err)
	}
	return device, nil
}

// GetKey returns the address registered for the device.
func (s *SQLiteRegistry) GetKey(ctx context.Context, eid string) (common.Address, error) {
	var pubkey string
	err := s.db.QueryRowContext(ctx, `SELECT pubkey FROM device_keys WHERE eid = ?`, eid).Scan(&pubkey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.Address{}, fmt.Errorf("%w: key for device %s", interfaces.ErrNotFound, eid)
		}
		return common.Address{}, storageErr("get device key", err)
	}
	return common.HexToAddress(pubkey), nil
}

// ApplyChange moves the device to (newICCID, newMNO) and appends the history
// record capturing the transition, in one transaction. The history timestamp
// never goes below the previous change of the same device. The mirror entry
// starts claimed by the caller.
func (s *SQLiteRegistry) ApplyChange(ctx context.Context, eid, newICCID, newMNO string) (interfaces.OperatorChange, error) {
	var change interfaces.OperatorChange

	err := s.write(ctx, func(tx *sql.Tx, now int64) error {
		var oldICCID, oldMNO string
		err := tx.QueryRowContext(ctx, `SELECT iccid, mno FROM devices WHERE eid = ?`, eid).Scan(&oldICCID, &oldMNO)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: device %s", interfaces.ErrNotFound, eid)
			}
			return storageErr("read device", err)
		}

		var last sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(changed_at) FROM operator_changes WHERE eid = ?`, eid,
		).Scan(&last); err != nil {
			return storageErr("read last change", err)
		}
		changedAt := now
		if last.Valid && last.Int64 > changedAt {
			changedAt = last.Int64
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE devices SET iccid = ?, mno = ?, updated_at = ? WHERE eid = ?`,
			newICCID, newMNO, now, eid,
		); err != nil {
			return storageErr("update device", err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO operator_changes (eid, old_iccid, old_mno, new_iccid, new_mno, changed_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			eid, oldICCID, oldMNO, newICCID, newMNO, changedAt,
		)
		if err != nil {
			return storageErr("insert operator change", err)
		}
		changeID, err := res.LastInsertId()
		if err != nil {
			return storageErr("operator change id", err)
		}

		mirror, err := insertMirror(ctx, tx, interfaces.OpChangeOperator, interfaces.RecordID(changeID), interfaces.MirrorArgs{
			EID:   eid,
			ICCID: newICCID,
			MNO:   newMNO,
		}, now)
		if err != nil {
			return err
		}

		change = interfaces.OperatorChange{
			ID:        interfaces.RecordID(changeID),
			EID:       eid,
			OldICCID:  oldICCID,
			OldMNO:    oldMNO,
			NewICCID:  newICCID,
			NewMNO:    newMNO,
			Timestamp: fromMillis(changedAt),
			MirrorID:  mirror.ID,
		}
		return nil
	})
	if err != nil {
		return interfaces.OperatorChange{}, err
	}

	return change, nil
}

// History returns the operator changes of eid ordered oldest first. An
// unknown eid has an empty history.
func (s *SQLiteRegistry) History(ctx context.Context, eid string) ([]interfaces.OperatorChange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, eid, old_iccid, old_mno, new_iccid, new_mno, changed_at
		   FROM operator_changes
		  WHERE eid = ?
		  ORDER BY changed_at, id`,
		eid,
	)
	if err != nil {
		return nil, storageErr("query history", err)
	}
	defer rows.Close()

	history := []interfaces.OperatorChange{}
	for rows.Next() {
		var (
			change    interfaces.OperatorChange
			changedAt int64
		)
		if err := rows.Scan(&change.ID, &change.EID, &change.OldICCID, &change.OldMNO, &change.NewICCID, &change.NewMNO, &changedAt); err != nil {
			return nil, storageErr("scan history", err)
		}
		change.Timestamp = fromMillis(changedAt)
		history = append(history, change)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate history", err)
	}
	return history, nil
}

// ListAll returns a snapshot of all registered devices.
func (s *SQLiteRegistry) ListAll(ctx context.Context) ([]interfaces.Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, eid, iccid, mno FROM devices ORDER BY id`)
	if err != nil {
		return nil, storageErr("query devices", err)
	}
	defer rows.Close()

	devices := []interfaces.Device{}
	for rows.Next() {
		var device interfaces.Device
		if err := rows.Scan(&device.ID, &device.EID, &device.ICCID, &device.MNO); err != nil {
			return nil, storageErr("scan device", err)
		}
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate devices", err)
	}
	return devices, nil
}

// write runs fn in a transaction while holding the registry write lock. Any
// error returned by fn rolls the transaction back.
func (s *SQLiteRegistry) write(ctx context.Context, fn func(tx *sql.Tx, now int64) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}

	if err := fn(tx, toMillis(s.now())); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error("Failed to roll back registry transaction", "err", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit transaction", err)
	}
	return nil
}

func insertMirror(ctx context.Context, tx *sql.Tx, op interfaces.LedgerOperation, recordID interfaces.RecordID, args interfaces.MirrorArgs, now int64) (interfaces.MirrorEntry, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return interfaces.MirrorEntry{}, storageErr("encode mirror args", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_mirror (operation, eid, record_id, args, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(op), args.EID, int64(recordID), string(encoded), string(interfaces.MirrorSubmitting), now, now,
	)
	if err != nil {
		return interfaces.MirrorEntry{}, storageErr("insert mirror entry", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return interfaces.MirrorEntry{}, storageErr("mirror entry id", err)
	}

	return interfaces.MirrorEntry{
		ID:        interfaces.RecordID(id),
		Operation: op,
		EID:       args.EID,
		RecordID:  recordID,
		Args:      args,
		Status:    interfaces.MirrorSubmitting,
		CreatedAt: fromMillis(now),
		UpdatedAt: fromMillis(now),
	}, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", interfaces.ErrStorage, op, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
