package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-klinik/internal/rules"
)

const ruleColumns = `
	id, practitioner_ids, practitioner_names, COALESCE(category, ''),
	procedure_names, percent_bps, default_fallback, COALESCE(description, ''),
	legacy_practitioner_id, COALESCE(legacy_practitioner_name, ''),
	COALESCE(legacy_procedure_name, ''), created_at, updated_at`

func scanRule(row pgx.Row) (rules.Record, error) {
	var rec rules.Record
	err := row.Scan(
		&rec.ID, &rec.PractitionerIDs, &rec.PractitionerNames, &rec.Category,
		&rec.ProcedureNames, &rec.PercentBps, &rec.DefaultFallback, &rec.Description,
		&rec.LegacyPractitionerID, &rec.LegacyPractitionerName,
		&rec.LegacyProcedureName, &rec.CreatedAt, &rec.UpdatedAt,
	)
	return rec, err
}

// ListCommissionRules returns every stored rule.
func (s *Store) ListCommissionRules(ctx context.Context) ([]rules.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+ruleColumns+` FROM commission_rules ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]rules.Record, 0, 16)
	for rows.Next() {
		rec, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetCommissionRule returns a single rule.
func (s *Store) GetCommissionRule(ctx context.Context, id uuid.UUID) (rules.Record, error) {
	rec, err := scanRule(s.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM commission_rules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return rules.Record{}, rules.ErrNotFound
	}
	return rec, err
}

// CreateCommissionRule inserts a rule in the canonical shape.
func (s *Store) CreateCommissionRule(ctx context.Context, rec rules.Record) (rules.Record, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO commission_rules (
			id, practitioner_ids, practitioner_names, category, procedure_names,
			percent_bps, default_fallback, description, created_at, updated_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''), $9, $10)
		RETURNING `+ruleColumns,
		rec.ID, rec.PractitionerIDs, rec.PractitionerNames, rec.Category,
		rec.ProcedureNames, rec.PercentBps, rec.DefaultFallback, rec.Description,
		rec.CreatedAt, rec.UpdatedAt,
	)
	return scanRule(row)
}

// UpdateCommissionRule replaces a rule. The legacy mirror columns are
// cleared; an updated rule only exists in the canonical shape.
func (s *Store) UpdateCommissionRule(ctx context.Context, rec rules.Record) (rules.Record, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE commission_rules SET
			practitioner_ids = $2,
			practitioner_names = $3,
			category = NULLIF($4, ''),
			procedure_names = $5,
			percent_bps = $6,
			default_fallback = $7,
			description = NULLIF($8, ''),
			legacy_practitioner_id = NULL,
			legacy_practitioner_name = NULL,
			legacy_procedure_name = NULL,
			updated_at = $9
		WHERE id = $1
		RETURNING `+ruleColumns,
		rec.ID, rec.PractitionerIDs, rec.PractitionerNames, rec.Category,
		rec.ProcedureNames, rec.PercentBps, rec.DefaultFallback, rec.Description,
		rec.UpdatedAt,
	)
	updated, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return rules.Record{}, rules.ErrNotFound
	}
	return updated, err
}

// DeleteCommissionRule removes a rule.
func (s *Store) DeleteCommissionRule(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM commission_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return rules.ErrNotFound
	}
	return nil
}
