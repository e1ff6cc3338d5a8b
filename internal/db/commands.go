package db

import (
	"context"
	"database/sql"
	"time"
)

const commandColumns = `id, enrollment_id, type, parameters, status, error, created_by, created_at, executed_at, completed_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanCommand(row rowScanner) (*Command, error) {
	var c Command
	var params string
	var executedAt, completedAt sql.NullTime
	if err := row.Scan(&c.ID, &c.EnrollmentID, &c.Type, &params, &c.Status, &c.Error, &c.CreatedBy,
		&c.CreatedAt, &executedAt, &completedAt); err != nil {
		return nil, err
	}
	c.Parameters = []byte(params)
	c.ExecutedAt = timePtr(executedAt)
	c.CompletedAt = timePtr(completedAt)
	return &c, nil
}

func insertCommand(ctx context.Context, ex execer, c *Command) error {
	params := string(c.Parameters)
	if params == "" {
		params = "{}"
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO commands (id, enrollment_id, type, parameters, status, error, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.EnrollmentID, c.Type, params, c.Status, c.Error, c.CreatedBy, c.CreatedAt)
	return err
}

func (db *DB) CreateCommand(ctx context.Context, c *Command) error {
	return insertCommand(ctx, db.conn, c)
}

func (db *DB) GetCommand(ctx context.Context, id string) (*Command, error) {
	c, err := scanCommand(db.conn.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM commands WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (db *DB) queryCommands(ctx context.Context, query string, args ...any) ([]Command, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	commands := []Command{}
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		commands = append(commands, *c)
	}
	return commands, rows.Err()
}

// GetPendingCommands returns the pending commands of an enrollment in
// insertion order.
func (db *DB) GetPendingCommands(ctx context.Context, enrollmentID string) ([]Command, error) {
	return db.queryCommands(ctx, `
		SELECT `+commandColumns+` FROM commands
		WHERE enrollment_id = ? AND status = ?
		ORDER BY seq ASC
	`, enrollmentID, CommandPending)
}

func (db *DB) CountPendingCommands(ctx context.Context, enrollmentID string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM commands WHERE enrollment_id = ? AND status = ?`,
		enrollmentID, CommandPending).Scan(&n)
	return n, err
}

// GetCommandHistory returns the most recent commands first.
func (db *DB) GetCommandHistory(ctx context.Context, enrollmentID string, limit int) ([]Command, error) {
	if limit <= 0 {
		limit = 50
	}
	return db.queryCommands(ctx, `
		SELECT `+commandColumns+` FROM commands
		WHERE enrollment_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, enrollmentID, limit)
}

// TransitionCommand moves a command from one status to another only if it is
// still in from. ErrConflict means another writer got there first.
// executedAt is kept when nil.
func (db *DB) TransitionCommand(ctx context.Context, id string, from, to CommandStatus, errMsg string,
	executedAt, completedAt *time.Time) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE commands SET status = ?, error = ?, executed_at = COALESCE(?, executed_at), completed_at = ?
		WHERE id = ? AND status = ?
	`, to, errMsg, nullTime(executedAt), nullTime(completedAt), id, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// DeleteCompletedCommandsBefore removes completed commands finished before
// cutoff. Failed commands are kept.
func (db *DB) DeleteCompletedCommandsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM commands WHERE status = ? AND completed_at IS NOT NULL AND completed_at < ?
	`, CommandCompleted, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
