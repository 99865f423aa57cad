package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-klinik/internal/cache"
)

// ErrNotFound indicates the requested catalog entry could not be located.
var ErrNotFound = errors.New("catalog: not found")

// Practitioner is a clinician who performs procedures and earns a
// commission. Category carries the specialization used by category-scoped
// commission rules.
type Practitioner struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Category string    `json:"category,omitempty"`
}

// Procedure is one billable service in the clinic catalog.
type Procedure struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Price    int64     `json:"price"`
	Category string    `json:"category,omitempty"`
}

// Medication is a dispensable item with externally owned stock.
type Medication struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Price    int64     `json:"price"`
	Category string    `json:"category,omitempty"`
	Stock    int       `json:"stock"`
}

// Querier captures the persistence methods the catalog service requires.
type Querier interface {
	ListPractitioners(ctx context.Context) ([]Practitioner, error)
	GetPractitioner(ctx context.Context, id uuid.UUID) (Practitioner, error)
	ListProcedures(ctx context.Context) ([]Procedure, error)
	GetProcedure(ctx context.Context, id uuid.UUID) (Procedure, error)
	ListMedications(ctx context.Context) ([]Medication, error)
	GetMedication(ctx context.Context, id uuid.UUID) (Medication, error)
}

// ServiceConfig configures the catalog service dependencies.
type ServiceConfig struct {
	Queries Querier
	Cache   *cache.Cache
}

// Service serves the practitioner, procedure and medication directories.
// List reads go through the Redis cache; point lookups (used by billing for
// price and stock) always hit the store so stock is never stale.
type Service struct {
	q     Querier
	cache *cache.Cache
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Queries == nil {
		return nil, errors.New("catalog: queries are required")
	}
	return &Service{q: cfg.Queries, cache: cfg.Cache}, nil
}

// ListPractitioners returns the practitioner directory.
func (s *Service) ListPractitioners(ctx context.Context) ([]Practitioner, error) {
	var cached []Practitioner
	if ok, err := s.cache.GetJSON(ctx, cache.KeyPractitioners, &cached); err == nil && ok {
		return cached, nil
	}
	rows, err := s.q.ListPractitioners(ctx)
	if err != nil {
		return nil, err
	}
	_ = s.cache.SetJSON(ctx, cache.KeyPractitioners, rows)
	return rows, nil
}

// GetPractitioner returns a single practitioner by ID.
func (s *Service) GetPractitioner(ctx context.Context, id uuid.UUID) (Practitioner, error) {
	return s.q.GetPractitioner(ctx, id)
}

// ListProcedures returns the procedure catalog.
func (s *Service) ListProcedures(ctx context.Context) ([]Procedure, error) {
	var cached []Procedure
	if ok, err := s.cache.GetJSON(ctx, cache.KeyProcedures, &cached); err == nil && ok {
		return cached, nil
	}
	rows, err := s.q.ListProcedures(ctx)
	if err != nil {
		return nil, err
	}
	_ = s.cache.SetJSON(ctx, cache.KeyProcedures, rows)
	return rows, nil
}

// GetProcedure returns a single procedure by ID.
func (s *Service) GetProcedure(ctx context.Context, id uuid.UUID) (Procedure, error) {
	return s.q.GetProcedure(ctx, id)
}

// ListMedications returns the medication catalog including current stock.
// Stock figures are served uncached so quantity validation sees the latest
// reported values.
func (s *Service) ListMedications(ctx context.Context) ([]Medication, error) {
	return s.q.ListMedications(ctx)
}

// GetMedication returns a single medication by ID.
func (s *Service) GetMedication(ctx context.Context, id uuid.UUID) (Medication, error) {
	return s.q.GetMedication(ctx, id)
}
