package rules

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-klinik/internal/cache"
	"github.com/noah-isme/backend-klinik/internal/commission"
	"github.com/noah-isme/backend-klinik/internal/events"
	"github.com/noah-isme/backend-klinik/internal/lock"
	"github.com/noah-isme/backend-klinik/internal/obs"
)

// ErrNotFound indicates the requested rule could not be located.
var ErrNotFound = errors.New("rules: rule not found")

// Record is a commission rule row as stored. Besides the canonical set
// fields it carries the singular mirrors written by the previous system;
// Normalize folds them in so the matcher only ever sees the sets.
type Record struct {
	ID                uuid.UUID   `json:"id"`
	PractitionerIDs   []uuid.UUID `json:"practitionerIds,omitempty"`
	PractitionerNames []string    `json:"practitionerNames,omitempty"`
	Category          string      `json:"category,omitempty"`
	ProcedureNames    []string    `json:"procedureNames,omitempty"`
	PercentBps        int64       `json:"percentBps"`
	DefaultFallback   bool        `json:"defaultFallback"`
	Description       string      `json:"description,omitempty"`

	LegacyPractitionerID   *uuid.UUID `json:"legacyPractitionerId,omitempty"`
	LegacyPractitionerName string     `json:"legacyPractitionerName,omitempty"`
	LegacyProcedureName    string     `json:"legacyProcedureName,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Normalize folds the legacy singular mirrors into the canonical sets and
// returns the rule shape the matcher operates on. Values already present in
// the sets are not duplicated; name comparison is case-insensitive.
func Normalize(rec Record) commission.Rule {
	rule := commission.Rule{
		ID:                rec.ID,
		PractitionerIDs:   append([]uuid.UUID(nil), rec.PractitionerIDs...),
		PractitionerNames: append([]string(nil), rec.PractitionerNames...),
		Category:          rec.Category,
		ProcedureNames:    append([]string(nil), rec.ProcedureNames...),
		PercentBps:        rec.PercentBps,
		DefaultFallback:   rec.DefaultFallback,
		Description:       rec.Description,
	}
	if rec.LegacyPractitionerID != nil && !containsUUID(rule.PractitionerIDs, *rec.LegacyPractitionerID) {
		rule.PractitionerIDs = append(rule.PractitionerIDs, *rec.LegacyPractitionerID)
	}
	if name := strings.TrimSpace(rec.LegacyPractitionerName); name != "" && !containsFold(rule.PractitionerNames, name) {
		rule.PractitionerNames = append(rule.PractitionerNames, name)
	}
	if name := strings.TrimSpace(rec.LegacyProcedureName); name != "" && !containsFold(rule.ProcedureNames, name) {
		rule.ProcedureNames = append(rule.ProcedureNames, name)
	}
	return rule
}

func containsUUID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func containsFold(names []string, name string) bool {
	for _, v := range names {
		if strings.EqualFold(strings.TrimSpace(v), name) {
			return true
		}
	}
	return false
}

// Querier captures the persistence methods the rule service requires.
type Querier interface {
	ListCommissionRules(ctx context.Context) ([]Record, error)
	GetCommissionRule(ctx context.Context, id uuid.UUID) (Record, error)
	CreateCommissionRule(ctx context.Context, rec Record) (Record, error)
	UpdateCommissionRule(ctx context.Context, rec Record) (Record, error)
	DeleteCommissionRule(ctx context.Context, id uuid.UUID) error
}

// Input is the admin-facing rule payload. The percentage crosses this
// boundary as a plain number (15 means 15%).
type Input struct {
	PractitionerIDs   []uuid.UUID `json:"practitionerIds" validate:"omitempty,dive,required"`
	PractitionerNames []string    `json:"practitionerNames" validate:"omitempty,dive,min=1"`
	Category          string      `json:"category" validate:"omitempty,min=1,max=100"`
	ProcedureNames    []string    `json:"procedureNames" validate:"omitempty,dive,min=1"`
	Percent           float64     `json:"percent" validate:"required,gt=0,lte=100"`
	DefaultFallback   bool        `json:"defaultFallback"`
	Description       string      `json:"description" validate:"omitempty,max=255"`
}

// Service manages the commission rule configuration store and serves the
// active rule set to the billing engine.
type Service struct {
	Q        Querier
	Cache    *cache.Cache
	Validate *validator.Validate
	Bus      *events.Bus
	Lock     *lock.Locker
	Log      zerolog.Logger
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) ready() error {
	if s == nil || s.Q == nil {
		return errors.New("rules service not configured")
	}
	return nil
}

// ActiveRules returns the normalized rule set for matching. The set is
// cached and invalidated on every write.
func (s *Service) ActiveRules(ctx context.Context) ([]commission.Rule, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var cached []commission.Rule
	if ok, err := s.Cache.GetJSON(ctx, cache.KeyCommissionRules, &cached); err == nil && ok {
		return cached, nil
	}
	if s.Lock != nil {
		// Serialize the rebuild across instances so a cache expiry does not
		// stampede the database. A second waiter finds the fresh cache.
		var rules []commission.Rule
		lockErr := s.Lock.WithLock(ctx, "lock:"+cache.KeyCommissionRules, 10*time.Second, func(ctx context.Context) error {
			if ok, err := s.Cache.GetJSON(ctx, cache.KeyCommissionRules, &rules); err == nil && ok {
				return nil
			}
			var err error
			rules, err = s.refreshRules(ctx)
			return err
		})
		if lockErr == nil {
			return rules, nil
		}
		s.Log.Warn().Err(lockErr).Msg("rule cache lock unavailable, refreshing directly")
	}
	return s.refreshRules(ctx)
}

func (s *Service) refreshRules(ctx context.Context) ([]commission.Rule, error) {
	if obs.RuleCacheRefreshTotal != nil {
		obs.RuleCacheRefreshTotal.Inc()
	}
	records, err := s.Q.ListCommissionRules(ctx)
	if err != nil {
		return nil, err
	}
	rules := make([]commission.Rule, 0, len(records))
	for _, rec := range records {
		rules = append(rules, Normalize(rec))
	}
	_ = s.Cache.SetJSON(ctx, cache.KeyCommissionRules, rules)
	return rules, nil
}

// List returns all stored rules.
func (s *Service) List(ctx context.Context) ([]Record, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.Q.ListCommissionRules(ctx)
}

// Get returns a single rule.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	if err := s.ready(); err != nil {
		return Record{}, err
	}
	return s.Q.GetCommissionRule(ctx, id)
}

// Create validates and stores a new rule. New rules are written in the
// canonical set shape only; the legacy mirrors exist solely for rows
// carried over from the previous system.
func (s *Service) Create(ctx context.Context, in Input) (Record, error) {
	if err := s.ready(); err != nil {
		return Record{}, err
	}
	rec, err := s.buildRecord(uuid.New(), in)
	if err != nil {
		return Record{}, err
	}
	rec.CreatedAt = s.now()
	rec.UpdatedAt = rec.CreatedAt
	created, err := s.Q.CreateCommissionRule(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	s.afterWrite(ctx, events.TopicCommissionRuleChanged, created.ID)
	return created, nil
}

// Update validates and replaces an existing rule. The legacy mirrors are
// cleared: an updated rule is stored in the canonical shape.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in Input) (Record, error) {
	if err := s.ready(); err != nil {
		return Record{}, err
	}
	current, err := s.Q.GetCommissionRule(ctx, id)
	if err != nil {
		return Record{}, err
	}
	rec, err := s.buildRecord(id, in)
	if err != nil {
		return Record{}, err
	}
	rec.CreatedAt = current.CreatedAt
	rec.UpdatedAt = s.now()
	updated, err := s.Q.UpdateCommissionRule(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	s.afterWrite(ctx, events.TopicCommissionRuleChanged, updated.ID)
	return updated, nil
}

// Delete removes a rule.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.Q.DeleteCommissionRule(ctx, id); err != nil {
		return err
	}
	s.afterWrite(ctx, events.TopicCommissionRuleDeleted, id)
	return nil
}

func (s *Service) buildRecord(id uuid.UUID, in Input) (Record, error) {
	if s.Validate != nil {
		if err := s.Validate.Struct(in); err != nil {
			return Record{}, err
		}
	}
	rec := Record{
		ID:                id,
		PractitionerIDs:   in.PractitionerIDs,
		PractitionerNames: trimAll(in.PractitionerNames),
		Category:          strings.TrimSpace(in.Category),
		ProcedureNames:    trimAll(in.ProcedureNames),
		PercentBps:        percentToBps(in.Percent),
		DefaultFallback:   in.DefaultFallback,
		Description:       strings.TrimSpace(in.Description),
	}
	if err := Normalize(rec).Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *Service) afterWrite(ctx context.Context, topic string, id uuid.UUID) {
	if err := s.Cache.Invalidate(ctx, cache.KeyCommissionRules); err != nil {
		s.Log.Warn().Err(err).Msg("invalidate rule cache")
	}
	if s.Bus != nil {
		if _, err := s.Bus.Emit(ctx, topic, id, map[string]string{"ruleId": id.String()}); err != nil {
			s.Log.Warn().Err(err).Str("topic", topic).Msg("emit event")
		}
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func percentToBps(pct float64) int64 {
	return int64(math.Round(pct * 100))
}
