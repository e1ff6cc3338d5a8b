package db

import (
	"context"
	"database/sql"
	"time"
)

const physicalDeviceColumns = `id, ssaid, serial_number, brand, model, manufacturer, build_fingerprint, created_at, updated_at`

func scanPhysicalDevice(row rowScanner) (*PhysicalDevice, error) {
	var d PhysicalDevice
	var ssaid, serial, fingerprint sql.NullString
	if err := row.Scan(&d.ID, &ssaid, &serial, &d.Brand, &d.Model, &d.Manufacturer, &fingerprint,
		&d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.SSAID = ssaid.String
	d.SerialNumber = serial.String
	d.BuildFingerprint = fingerprint.String
	return &d, nil
}

// ResolvePhysicalDevice finds the physical device matching the given
// identifiers or creates one, in a single write transaction. Callers must
// blank identifiers that failed validation: an empty SSAID or serial is never
// used for matching and is stored as NULL.
//
// Matching order: exact SSAID, then serial number corroborated by brand and
// model. The returned bool reports whether a new record was created.
func (db *DB) ResolvePhysicalDevice(ctx context.Context, d *PhysicalDevice, now time.Time) (string, bool, error) {
	var id string
	var created bool
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		id, created = "", false

		if d.SSAID != "" {
			err := tx.QueryRowContext(ctx, `SELECT id FROM physical_devices WHERE ssaid = ?`, d.SSAID).Scan(&id)
			if err != nil && err != sql.ErrNoRows {
				return err
			}
			if id != "" {
				_, err := tx.ExecContext(ctx, `UPDATE physical_devices SET updated_at = ? WHERE id = ?`, now, id)
				return err
			}
		}

		if d.SerialNumber != "" {
			err := tx.QueryRowContext(ctx, `
				SELECT id FROM physical_devices
				WHERE serial_number = ? AND brand = ? AND model = ?
				ORDER BY created_at
				LIMIT 1
			`, d.SerialNumber, d.Brand, d.Model).Scan(&id)
			if err != nil && err != sql.ErrNoRows {
				return err
			}
			if id != "" {
				// Backfill an SSAID first seen on a serial match. The SSAID lookup
				// above already proved no other record holds it.
				_, err := tx.ExecContext(ctx, `
					UPDATE physical_devices SET updated_at = ?, ssaid = COALESCE(ssaid, ?) WHERE id = ?
				`, now, nullString(d.SSAID), id)
				return err
			}
		}

		id = d.ID
		created = true
		_, err := tx.ExecContext(ctx, `
			INSERT INTO physical_devices (`+physicalDeviceColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, d.ID, nullString(d.SSAID), nullString(d.SerialNumber), d.Brand, d.Model, d.Manufacturer,
			nullString(d.BuildFingerprint), now, now)
		return err
	})
	if err != nil {
		return "", false, err
	}
	return id, created, nil
}

func (db *DB) GetPhysicalDevice(ctx context.Context, id string) (*PhysicalDevice, error) {
	d, err := scanPhysicalDevice(db.conn.QueryRowContext(ctx,
		`SELECT `+physicalDeviceColumns+` FROM physical_devices WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (db *DB) CountPhysicalDevices(ctx context.Context) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM physical_devices`).Scan(&n)
	return n, err
}
