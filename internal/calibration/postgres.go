package calibration

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const loadCalibrationSQL = `
    SELECT key, value
    FROM node_calibration
    WHERE device_id = $1
`

// PostgresStore reads node_calibration(device_id, key, value).
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) Load(ctx context.Context, deviceID string) (Calibration, error) {
	rows, err := s.pool.Query(ctx, loadCalibrationSQL, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query calibration: %w", err)
	}
	defer rows.Close()

	out := Calibration{}
	for rows.Next() {
		var key string
		var value float64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan calibration: %w", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, deviceID)
	}
	return out, nil
}
