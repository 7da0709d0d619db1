// Package storage provides the durable Device Registry on SQLite.
//
// SQLiteRegistry keeps four tables:
//
//   - devices: current (iccid, mno) of each eid
//   - device_keys: the checksummed address that signs a device's requests
//   - operator_changes: append-only history of accepted operator changes
//   - ledger_mirror: journal of ledger calls mirroring local writes
//
// Schema changes live in migrations/*.sql and are applied on open.
//
// # Write Serialization
//
// Every write holds the registry's write mutex and runs in a BEGIN IMMEDIATE
// transaction. ApplyChange reads the current state, updates it, appends the
// history record and inserts the mirror entry inside that single transaction,
// so concurrent changes to the same eid never lose an update. Any SQL failure
// rolls the transaction back and surfaces as interfaces.ErrStorage.
//
// Reads run without the mutex; WAL journaling lets them proceed alongside a
// writer.
//
// # Usage
//
//	reg, err := storage.NewSQLiteRegistry("/var/lib/esim/registry.db", log)
//	if err != nil {
//	    return err
//	}
//	defer reg.Close()
//
//	id, mirror, err := reg.Register(ctx, interfaces.Device{EID: eid, ICCID: iccid, MNO: mno}, pubkey)
package storage
