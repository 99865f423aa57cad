package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-klinik/internal/catalog"
)

// ListPractitioners returns the practitioner directory ordered by name.
func (s *Store) ListPractitioners(ctx context.Context) ([]catalog.Practitioner, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, COALESCE(category, '')
		FROM practitioners
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]catalog.Practitioner, 0, 32)
	for rows.Next() {
		var p catalog.Practitioner
		if err := rows.Scan(&p.ID, &p.Name, &p.Category); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPractitioner returns a single practitioner.
func (s *Store) GetPractitioner(ctx context.Context, id uuid.UUID) (catalog.Practitioner, error) {
	var p catalog.Practitioner
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(category, '')
		FROM practitioners
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Category)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Practitioner{}, catalog.ErrNotFound
	}
	return p, err
}

// ListProcedures returns the procedure catalog ordered by name.
func (s *Store) ListProcedures(ctx context.Context) ([]catalog.Procedure, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, price, COALESCE(category, '')
		FROM procedures
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]catalog.Procedure, 0, 64)
	for rows.Next() {
		var p catalog.Procedure
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Category); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProcedure returns a single procedure.
func (s *Store) GetProcedure(ctx context.Context, id uuid.UUID) (catalog.Procedure, error) {
	var p catalog.Procedure
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, price, COALESCE(category, '')
		FROM procedures
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Price, &p.Category)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Procedure{}, catalog.ErrNotFound
	}
	return p, err
}

// ListMedications returns the medication catalog with current stock.
func (s *Store) ListMedications(ctx context.Context) ([]catalog.Medication, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, price, COALESCE(category, ''), stock
		FROM medications
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]catalog.Medication, 0, 64)
	for rows.Next() {
		var m catalog.Medication
		if err := rows.Scan(&m.ID, &m.Name, &m.Price, &m.Category, &m.Stock); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMedication returns a single medication.
func (s *Store) GetMedication(ctx context.Context, id uuid.UUID) (catalog.Medication, error) {
	var m catalog.Medication
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, price, COALESCE(category, ''), stock
		FROM medications
		WHERE id = $1
	`, id).Scan(&m.ID, &m.Name, &m.Price, &m.Category, &m.Stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Medication{}, catalog.ErrNotFound
	}
	return m, err
}
