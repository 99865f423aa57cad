package billing

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-klinik/internal/commission"
	"github.com/noah-isme/backend-klinik/internal/pricing"
	"github.com/noah-isme/backend-klinik/internal/voucher"
)

// ErrSessionNotFound indicates the requested billing session could not be located.
var ErrSessionNotFound = errors.New("billing: session not found")

// ErrLineNotFound indicates the referenced line is not on the session.
var ErrLineNotFound = errors.New("billing: line not found")

// ErrOrderNotFound indicates the finalized order does not exist.
var ErrOrderNotFound = errors.New("billing: order not found")

// Session is one in-progress order composition: the selected practitioner,
// the procedure and medication lines, and the per-session override state.
// Everything money-shaped on it is an input; totals and commission are
// derived on read and never stored.
type Session struct {
	mu sync.Mutex

	ID               uuid.UUID
	PractitionerID   *uuid.UUID
	PractitionerName string
	Procedures       []pricing.ProcedureLine
	Medications      []pricing.MedicationLine
	AdminFeeOverride *pricing.Money
	Commission       commission.State
	Voucher          voucher.Adjuster
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SessionStore holds live billing sessions in memory. Sessions are
// short-lived by nature; a finalized session is removed and survives only
// as a persisted order.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewSessionStore returns an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[uuid.UUID]*Session)}
}

// Create registers a fresh session and returns it.
func (st *SessionStore) Create(now time.Time) *Session {
	sess := &Session{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	st.mu.Lock()
	st.sessions[sess.ID] = sess
	st.mu.Unlock()
	return sess
}

// Get returns the session with the given id.
func (st *SessionStore) Get(id uuid.UUID) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Delete removes the session. Deleting an unknown id is a no-op.
func (st *SessionStore) Delete(id uuid.UUID) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// Len reports the number of live sessions.
func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
