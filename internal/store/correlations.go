package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
)

// AddCorrelation persists a new correlation envelope (spec: add_correlation).
func (s *Store) AddCorrelation(ctx context.Context, c *model.Correlation) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO correlations (correlation_id, service_type, handler_name, action_type,
				request_data, response_data, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, c.CorrelationID, c.ServiceType, c.HandlerName, c.ActionType, c.RequestData,
			c.ResponseData, string(c.Status), c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert correlation: %w", err)
		}
		return nil
	})
}

// UpdateCorrelation records a response and terminal status (spec: update_correlation).
func (s *Store) UpdateCorrelation(ctx context.Context, id, response string, status model.CorrelationStatus) error {
	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE correlations SET response_data = ?, status = ?, updated_at = ? WHERE correlation_id = ?;
		`, response, string(status), time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("update correlation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("update correlation: %s not found", id)
		}
		return nil
	})
}

// GetCorrelation returns a correlation by id, or (nil, nil) if absent (spec: get_correlation).
func (s *Store) GetCorrelation(ctx context.Context, id string) (*model.Correlation, error) {
	var c model.Correlation
	var response sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT correlation_id, service_type, handler_name, action_type, request_data, response_data,
			status, created_at, updated_at
		FROM correlations WHERE correlation_id = ?;
	`, id).Scan(&c.CorrelationID, &c.ServiceType, &c.HandlerName, &c.ActionType, &c.RequestData,
		&response, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get correlation: %w", err)
	}
	c.ResponseData = response.String
	return &c, nil
}
