package erafiles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore keeps records and raw file bytes in Postgres.
type PGStore struct{ pool *pgxpool.Pool }

func NewPGStore(pool *pgxpool.Pool) *PGStore { return &PGStore{pool: pool} }

const fileCols = `id, file_name, size, hash, status, uploaded_by, uploaded_at`

func scanRecord(row pgx.Row) (*FileRecord, error) {
	var r FileRecord
	err := row.Scan(&r.ID, &r.FileName, &r.Size, &r.Hash, &r.Status, &r.UploadedBy, &r.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	return &r, err
}

func (s *PGStore) Save(ctx context.Context, fileName, uploadedBy string, data []byte) (*FileRecord, error) {
	if err := ValidateName(fileName); err != nil {
		return nil, err
	}
	if int64(len(data)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	rec := &FileRecord{
		ID:         uuid.New(),
		FileName:   fileName,
		Size:       int64(len(data)),
		Hash:       HashBytes(data),
		Status:     StatusUploaded,
		UploadedBy: uploadedBy,
		UploadedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO era_files (id, file_name, size, hash, status, uploaded_by, uploaded_at, raw_data)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, rec.FileName, rec.Size, rec.Hash, rec.Status, rec.UploadedBy, rec.UploadedAt, data)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PGStore) Get(ctx context.Context, id uuid.UUID) (*FileRecord, error) {
	return scanRecord(s.pool.QueryRow(ctx, `SELECT `+fileCols+` FROM era_files WHERE id = $1`, id))
}

func (s *PGStore) Data(ctx context.Context, id uuid.UUID) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT raw_data FROM era_files WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	return data, err
}

func (s *PGStore) FindByHash(ctx context.Context, hash string) (*FileRecord, error) {
	return scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+fileCols+` FROM era_files WHERE hash = $1 ORDER BY uploaded_at LIMIT 1`, hash))
}

func (s *PGStore) List(ctx context.Context, status string, limit, offset int) ([]*FileRecord, int, error) {
	where := ``
	args := []interface{}{}
	if status != "" {
		where = ` WHERE status = $1`
		args = append(args, status)
	}
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM era_files`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	query := fmt.Sprintf(`SELECT `+fileCols+` FROM era_files%s ORDER BY uploaded_at DESC LIMIT $%d OFFSET $%d`,
		where, n+1, n+2)
	rows, err := s.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*FileRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, r)
	}
	return items, total, rows.Err()
}

func (s *PGStore) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE era_files SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}
