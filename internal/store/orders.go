package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-klinik/internal/billing"
	"github.com/noah-isme/backend-klinik/internal/commission"
	"github.com/noah-isme/backend-klinik/internal/pricing"
	"github.com/noah-isme/backend-klinik/internal/voucher"
)

// SaveOrder persists a finalized order. Line items and derived figures are
// stored as JSON documents; they are frozen at finalization and never
// queried column-wise.
func (s *Store) SaveOrder(ctx context.Context, order billing.FinalizedOrder) error {
	procedures, err := json.Marshal(order.Procedures)
	if err != nil {
		return fmt.Errorf("encode procedures: %w", err)
	}
	medications, err := json.Marshal(order.Medications)
	if err != nil {
		return fmt.Errorf("encode medications: %w", err)
	}
	totals, err := json.Marshal(order.Totals)
	if err != nil {
		return fmt.Errorf("encode totals: %w", err)
	}
	resolved, err := json.Marshal(order.Commission)
	if err != nil {
		return fmt.Errorf("encode commission: %w", err)
	}
	var applied []byte
	if order.Voucher != nil {
		applied, err = json.Marshal(order.Voucher)
		if err != nil {
			return fmt.Errorf("encode voucher: %w", err)
		}
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO finalized_orders (
			id, session_id, practitioner_id, practitioner_name,
			procedures, medications, totals, commission, voucher, finalized_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10)
	`,
		order.ID, order.SessionID, order.PractitionerID, order.PractitionerName,
		procedures, medications, totals, resolved, applied, order.FinalizedAt,
	)
	return err
}

// GetOrder loads a finalized order.
func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (billing.FinalizedOrder, error) {
	var (
		order       billing.FinalizedOrder
		name        *string
		procedures  []byte
		medications []byte
		totals      []byte
		resolved    []byte
		applied     []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, session_id, practitioner_id, practitioner_name,
			procedures, medications, totals, commission, voucher, finalized_at
		FROM finalized_orders
		WHERE id = $1
	`, id).Scan(
		&order.ID, &order.SessionID, &order.PractitionerID, &name,
		&procedures, &medications, &totals, &resolved, &applied, &order.FinalizedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return billing.FinalizedOrder{}, billing.ErrOrderNotFound
	}
	if err != nil {
		return billing.FinalizedOrder{}, err
	}
	if name != nil {
		order.PractitionerName = *name
	}
	if err := json.Unmarshal(procedures, &order.Procedures); err != nil {
		return billing.FinalizedOrder{}, fmt.Errorf("decode procedures: %w", err)
	}
	if err := json.Unmarshal(medications, &order.Medications); err != nil {
		return billing.FinalizedOrder{}, fmt.Errorf("decode medications: %w", err)
	}
	var t pricing.Totals
	if err := json.Unmarshal(totals, &t); err != nil {
		return billing.FinalizedOrder{}, fmt.Errorf("decode totals: %w", err)
	}
	order.Totals = t
	var c commission.Resolved
	if err := json.Unmarshal(resolved, &c); err != nil {
		return billing.FinalizedOrder{}, fmt.Errorf("decode commission: %w", err)
	}
	order.Commission = c
	if len(applied) > 0 {
		var v voucher.Applied
		if err := json.Unmarshal(applied, &v); err != nil {
			return billing.FinalizedOrder{}, fmt.Errorf("decode voucher: %w", err)
		}
		order.Voucher = &v
	}
	return order, nil
}
