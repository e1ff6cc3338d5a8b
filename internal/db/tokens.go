package db

import (
	"context"
	"database/sql"
	"time"
)

const tokenColumns = `id, token, user_id, policy_id, server_url, apk_version, apk_id, used, used_at, used_by, expires_at, created_at`

func scanToken(row rowScanner) (*EnrollmentToken, error) {
	var t EnrollmentToken
	var usedAt sql.NullTime
	var apkID, usedBy sql.NullString
	if err := row.Scan(&t.ID, &t.Token, &t.UserID, &t.PolicyID, &t.ServerURL, &t.APKVersion, &apkID,
		&t.Used, &usedAt, &usedBy, &t.ExpiresAt, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.UsedAt = timePtr(usedAt)
	t.APKID = apkID.String
	t.UsedBy = usedBy.String
	return &t, nil
}

func (db *DB) CreateToken(ctx context.Context, t *EnrollmentToken) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO enrollment_tokens (id, token, user_id, policy_id, server_url, apk_version, apk_id, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Token, t.UserID, t.PolicyID, t.ServerURL, t.APKVersion, nullString(t.APKID), t.ExpiresAt, t.CreatedAt)
	return err
}

func (db *DB) GetToken(ctx context.Context, id string) (*EnrollmentToken, error) {
	t, err := scanToken(db.conn.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM enrollment_tokens WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (db *DB) GetTokenByValue(ctx context.Context, token string) (*EnrollmentToken, error) {
	t, err := scanToken(db.conn.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM enrollment_tokens WHERE token = ?`, token))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetTokenConsumedBy returns the most recent token consumed by deviceID.
func (db *DB) GetTokenConsumedBy(ctx context.Context, deviceID string) (*EnrollmentToken, error) {
	t, err := scanToken(db.conn.QueryRowContext(ctx, `
		SELECT `+tokenColumns+` FROM enrollment_tokens
		WHERE used = 1 AND used_by = ?
		ORDER BY used_at DESC
		LIMIT 1
	`, deviceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (db *DB) GetTokensByUser(ctx context.Context, userID string) ([]EnrollmentToken, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM enrollment_tokens WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []EnrollmentToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *t)
	}
	return tokens, rows.Err()
}

// ConsumeToken marks the token used by deviceID. It reports whether this call
// performed the transition; a token that is already used is left untouched.
func (db *DB) ConsumeToken(ctx context.Context, token, deviceID string, now time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE enrollment_tokens SET used = 1, used_at = ?, used_by = ?
		WHERE token = ? AND used = 0
	`, now, nullString(deviceID), token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ClaimToken consumes token for deviceID unless a different device already
// consumed it. The conditional write decides the winner; used_by never
// changes once set, so a lost race is settled by reading it back. claimed
// reports whether this call made the first consumption. ErrConflict means
// another device holds the token; sql.ErrNoRows means it no longer exists.
func (db *DB) ClaimToken(ctx context.Context, token, deviceID string, now time.Time) (claimed bool, err error) {
	claimed, err = db.ConsumeToken(ctx, token, deviceID, now)
	if err != nil || claimed {
		return claimed, err
	}

	var usedBy sql.NullString
	if err := db.conn.QueryRowContext(ctx, `SELECT used_by FROM enrollment_tokens WHERE token = ?`, token).Scan(&usedBy); err != nil {
		return false, err
	}
	if usedBy.String != deviceID {
		return false, ErrConflict
	}
	return false, nil
}

func (db *DB) DeleteToken(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM enrollment_tokens WHERE id = ?`, id)
	return err
}
