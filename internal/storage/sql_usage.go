package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vijoin/tero/pkg/models"
)

type sqlUsageStore struct{ *sqlDB }

func (s *sqlUsageStore) Add(ctx context.Context, u *models.Usage) error {
	if u == nil {
		return fmt.Errorf("usage is required")
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO usage (id, message_id, user_id, agent_id, model_id, timestamp, quantity, usd_cost, type)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		u.ID,
		nullableString(u.MessageID),
		u.UserID,
		u.AgentID,
		nullableString(u.ModelID),
		u.Timestamp.UTC(),
		u.Quantity,
		u.USDCost,
		string(u.Type),
	)
	if err != nil {
		return fmt.Errorf("add usage: %w", err)
	}
	return nil
}

func (s *sqlUsageStore) SumUSDSince(ctx context.Context, userID string, since time.Time) (float64, error) {
	var total float64
	err := s.queryRow(ctx,
		`SELECT COALESCE(SUM(usd_cost), 0) FROM usage WHERE user_id = $1 AND timestamp >= $2`,
		userID, since.UTC()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum usage: %w", err)
	}
	return total, nil
}
