package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrPolicyInUse is returned when deleting a policy still assigned to an
// enrollment.
var ErrPolicyInUse = errors.New("policy is assigned to enrollments")

const policyColumns = `id, user_id, name, description, password_required, password_min_length, password_quality,
	restrictions, wifi_configs, kiosk, status_bar_disabled, disabled_system_apps, is_default, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (*Policy, error) {
	var p Policy
	var restrictions, wifi, kiosk, disabledApps string
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.PasswordRequired, &p.PasswordMinLength,
		&p.PasswordQuality, &restrictions, &wifi, &kiosk, &p.StatusBarDisabled, &disabledApps, &p.IsDefault,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(restrictions), &p.Restrictions); err != nil {
		return nil, fmt.Errorf("decode restrictions for policy %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(wifi), &p.WifiConfigs); err != nil {
		return nil, fmt.Errorf("decode wifi configs for policy %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(kiosk), &p.Kiosk); err != nil {
		return nil, fmt.Errorf("decode kiosk for policy %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(disabledApps), &p.DisabledSystemApps); err != nil {
		return nil, fmt.Errorf("decode disabled apps for policy %s: %w", p.ID, err)
	}
	if p.WifiConfigs == nil {
		p.WifiConfigs = []WifiConfig{}
	}
	if p.DisabledSystemApps == nil {
		p.DisabledSystemApps = []string{}
	}
	if p.Kiosk.Packages == nil {
		p.Kiosk.Packages = []string{}
	}
	return &p, nil
}

type policyJSON struct {
	restrictions, wifi, kiosk, disabledApps string
}

func encodePolicy(p *Policy) (policyJSON, error) {
	var out policyJSON
	fields := []struct {
		dst *string
		v   any
	}{
		{&out.restrictions, p.Restrictions},
		{&out.wifi, nonNil(p.WifiConfigs)},
		{&out.kiosk, p.Kiosk},
		{&out.disabledApps, nonNil(p.DisabledSystemApps)},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.v)
		if err != nil {
			return out, err
		}
		*f.dst = string(b)
	}
	return out, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func clearDefault(ctx context.Context, tx *sql.Tx, userID, exceptID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE policies SET is_default = 0 WHERE user_id = ? AND is_default = 1 AND id != ?`,
		userID, exceptID)
	return err
}

// CreatePolicy inserts p. When p is the default, the operator's previous
// default is cleared in the same transaction.
func (db *DB) CreatePolicy(ctx context.Context, p *Policy) error {
	enc, err := encodePolicy(p)
	if err != nil {
		return err
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if p.IsDefault {
			if err := clearDefault(ctx, tx, p.UserID, p.ID); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO policies (`+policyColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.ID, p.UserID, p.Name, p.Description, p.PasswordRequired, p.PasswordMinLength, p.PasswordQuality,
			enc.restrictions, enc.wifi, enc.kiosk, p.StatusBarDisabled, enc.disabledApps, p.IsDefault,
			p.CreatedAt, p.UpdatedAt)
		return err
	})
}

func (db *DB) UpdatePolicy(ctx context.Context, p *Policy) error {
	enc, err := encodePolicy(p)
	if err != nil {
		return err
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if p.IsDefault {
			if err := clearDefault(ctx, tx, p.UserID, p.ID); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE policies SET name = ?, description = ?, password_required = ?, password_min_length = ?,
				password_quality = ?, restrictions = ?, wifi_configs = ?, kiosk = ?, status_bar_disabled = ?,
				disabled_system_apps = ?, is_default = ?, updated_at = ?
			WHERE id = ?
		`, p.Name, p.Description, p.PasswordRequired, p.PasswordMinLength, p.PasswordQuality,
			enc.restrictions, enc.wifi, enc.kiosk, p.StatusBarDisabled, enc.disabledApps, p.IsDefault,
			p.UpdatedAt, p.ID)
		return err
	})
}

// SetDefaultPolicy atomically makes policyID the only default of userID.
func (db *DB) SetDefaultPolicy(ctx context.Context, userID, policyID string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := clearDefault(ctx, tx, userID, policyID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE policies SET is_default = 1 WHERE id = ? AND user_id = ?`, policyID, userID)
		return err
	})
}

func (db *DB) GetPolicy(ctx context.Context, id string) (*Policy, error) {
	p, err := scanPolicy(db.conn.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM policies WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (db *DB) GetDefaultPolicy(ctx context.Context, userID string) (*Policy, error) {
	p, err := scanPolicy(db.conn.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE user_id = ? AND is_default = 1`, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (db *DB) GetPolicyByName(ctx context.Context, userID, name string) (*Policy, error) {
	p, err := scanPolicy(db.conn.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE user_id = ? AND name = ? ORDER BY created_at LIMIT 1`, userID, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (db *DB) GetPoliciesByUser(ctx context.Context, userID string) ([]Policy, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE user_id = ? ORDER BY is_default DESC, LOWER(name)`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

// DeletePolicy removes a policy and its enrollment tokens unless an
// enrollment still references it.
func (db *DB) DeletePolicy(ctx context.Context, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var inUse int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM enrollments WHERE policy_id = ?`, id).Scan(&inUse); err != nil {
			return err
		}
		if inUse > 0 {
			return ErrPolicyInUse
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM policies WHERE id = ?`, id)
		return err
	})
}
