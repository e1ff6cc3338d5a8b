package db

import (
	"context"
	"database/sql"
	"time"
)

// DefaultPingInterval is assigned to new enrollments, in minutes.
const DefaultPingInterval = 15

const enrollmentColumns = `id, user_id, android_id, model, manufacturer, android_version, is_device_owner, policy_id,
	api_token, ping_interval, last_heartbeat, physical_device_id, pending_removal, registered_at, updated_at`

func scanEnrollment(row rowScanner) (*Enrollment, error) {
	var e Enrollment
	var policyID, physicalID sql.NullString
	var lastHeartbeat sql.NullTime
	if err := row.Scan(&e.ID, &e.UserID, &e.AndroidID, &e.Model, &e.Manufacturer, &e.AndroidVersion,
		&e.IsDeviceOwner, &policyID, &e.APIToken, &e.PingIntervalMinutes, &lastHeartbeat, &physicalID,
		&e.PendingRemoval, &e.RegisteredAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.PolicyID = policyID.String
	e.PhysicalDeviceID = physicalID.String
	e.LastHeartbeat = timePtr(lastHeartbeat)
	return &e, nil
}

// UpsertEnrollment registers e keyed by e.ID. A new enrollment gets a fresh
// API token and the default ping interval. An existing one keeps its API
// token, ping interval and registration time; its owner and policy are only
// replaced when e carries a real owner or a policy. The heartbeat is
// refreshed either way. The returned bool reports whether a row was created.
func (db *DB) UpsertEnrollment(ctx context.Context, e *Enrollment, now time.Time) (*Enrollment, bool, error) {
	var result *Enrollment
	var created bool
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanEnrollment(tx.QueryRowContext(ctx,
			`SELECT `+enrollmentColumns+` FROM enrollments WHERE id = ?`, e.ID))
		if err != nil && err != sql.ErrNoRows {
			return err
		}

		if existing == nil {
			created = true
			token, err := generateToken()
			if err != nil {
				return err
			}
			owner := e.UserID
			if owner == "" {
				owner = UnassignedOwner
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO enrollments (`+enrollmentColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
			`, e.ID, owner, e.AndroidID, e.Model, e.Manufacturer, e.AndroidVersion, e.IsDeviceOwner,
				nullString(e.PolicyID), token, DefaultPingInterval, now, nullString(e.PhysicalDeviceID), now, now)
			if err != nil {
				return err
			}
		} else {
			created = false
			owner := existing.UserID
			if e.UserID != "" && e.UserID != UnassignedOwner {
				owner = e.UserID
			}
			policyID := existing.PolicyID
			if e.PolicyID != "" {
				policyID = e.PolicyID
			}
			physicalID := existing.PhysicalDeviceID
			if e.PhysicalDeviceID != "" {
				physicalID = e.PhysicalDeviceID
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE enrollments SET user_id = ?, android_id = ?, model = ?, manufacturer = ?, android_version = ?,
					is_device_owner = ?, policy_id = ?, last_heartbeat = ?, physical_device_id = ?,
					pending_removal = 0, updated_at = ?
				WHERE id = ?
			`, owner, e.AndroidID, e.Model, e.Manufacturer, e.AndroidVersion, e.IsDeviceOwner,
				nullString(policyID), now, nullString(physicalID), now, e.ID)
			if err != nil {
				return err
			}
		}

		result, err = scanEnrollment(tx.QueryRowContext(ctx,
			`SELECT `+enrollmentColumns+` FROM enrollments WHERE id = ?`, e.ID))
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

func (db *DB) GetEnrollment(ctx context.Context, id string) (*Enrollment, error) {
	e, err := scanEnrollment(db.conn.QueryRowContext(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetEnrollmentByAPIToken is the lookup behind every device request; it is
// served by the unique index on api_token.
func (db *DB) GetEnrollmentByAPIToken(ctx context.Context, token string) (*Enrollment, error) {
	e, err := scanEnrollment(db.conn.QueryRowContext(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE api_token = ?`, token))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (db *DB) GetEnrollmentsByUser(ctx context.Context, userID string) ([]Enrollment, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+enrollmentColumns+` FROM enrollments
		WHERE user_id = ?
		ORDER BY COALESCE(last_heartbeat, registered_at) DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var enrollments []Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		enrollments = append(enrollments, *e)
	}
	return enrollments, rows.Err()
}

func (db *DB) UpdateHeartbeat(ctx context.Context, id string, now time.Time) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE enrollments SET last_heartbeat = ? WHERE id = ?`, now, id)
	return err
}

func (db *DB) UpdatePingInterval(ctx context.Context, id string, minutes int, now time.Time) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE enrollments SET ping_interval = ?, updated_at = ? WHERE id = ?`,
		minutes, now, id)
	return err
}

// SetEnrollmentPolicy assigns policyID (empty clears it) and, when cmd is
// not nil, queues cmd in the same transaction.
func (db *DB) SetEnrollmentPolicy(ctx context.Context, id, policyID string, cmd *Command, now time.Time) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE enrollments SET policy_id = ?, updated_at = ? WHERE id = ?`,
			nullString(policyID), now, id); err != nil {
			return err
		}
		if cmd == nil {
			return nil
		}
		return insertCommand(ctx, tx, cmd)
	})
}

func (db *DB) ClearPendingRemoval(ctx context.Context, id string, now time.Time) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE enrollments SET pending_removal = 0, updated_at = ? WHERE id = ?`, now, id)
	return err
}

// RetireEnrollment flags the enrollment for removal and queues cmd (the wipe)
// in one transaction.
func (db *DB) RetireEnrollment(ctx context.Context, id string, cmd *Command, now time.Time) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE enrollments SET pending_removal = 1, updated_at = ? WHERE id = ?`,
			now, id); err != nil {
			return err
		}
		return insertCommand(ctx, tx, cmd)
	})
}

func (db *DB) DeleteEnrollment(ctx context.Context, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		// Delete commands first
		if _, err := tx.ExecContext(ctx, `DELETE FROM commands WHERE enrollment_id = ?`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM enrollments WHERE id = ?`, id)
		return err
	})
}
