package db

import (
	"context"
	"database/sql"
)

const apkColumns = `id, version, package_name, storage_key, signature_checksum, size_bytes, is_current,
	download_count, uploaded_by, created_at`

func scanAPK(row rowScanner) (*APK, error) {
	var a APK
	if err := row.Scan(&a.ID, &a.Version, &a.PackageName, &a.StorageKey, &a.SignatureChecksum, &a.SizeBytes,
		&a.IsCurrent, &a.DownloadCount, &a.UploadedBy, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAPK records an uploaded build and makes it the current one.
func (db *DB) CreateAPK(ctx context.Context, a *APK) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE dpc_apks SET is_current = 0 WHERE is_current = 1`); err != nil {
			return err
		}
		a.IsCurrent = true
		_, err := tx.ExecContext(ctx, `
			INSERT INTO dpc_apks (`+apkColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, 1, 0, ?, ?)
		`, a.ID, a.Version, a.PackageName, a.StorageKey, a.SignatureChecksum, a.SizeBytes, a.UploadedBy, a.CreatedAt)
		return err
	})
}

func (db *DB) GetCurrentAPK(ctx context.Context) (*APK, error) {
	a, err := scanAPK(db.conn.QueryRowContext(ctx, `SELECT `+apkColumns+` FROM dpc_apks WHERE is_current = 1`))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (db *DB) GetAPK(ctx context.Context, id string) (*APK, error) {
	a, err := scanAPK(db.conn.QueryRowContext(ctx, `SELECT `+apkColumns+` FROM dpc_apks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (db *DB) GetAPKs(ctx context.Context) ([]APK, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+apkColumns+` FROM dpc_apks ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apks []APK
	for rows.Next() {
		a, err := scanAPK(rows)
		if err != nil {
			return nil, err
		}
		apks = append(apks, *a)
	}
	return apks, rows.Err()
}

// IncrementAPKDownloads bumps the download counter in the database rather
// than in process memory.
func (db *DB) IncrementAPKDownloads(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE dpc_apks SET download_count = download_count + 1 WHERE id = ?`, id)
	return err
}
