package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-tester/internal/storage"
	"github.com/lorawan-server/lorawan-tester/pkg/lorawan"
)

// Common errors
var (
	ErrNoCurrentSession = errors.New("no current session")
	ErrSessionExists    = errors.New("session already exists")
	ErrUnknownParam     = errors.New("unknown session parameter")
	ErrInvalidValue     = errors.New("invalid parameter value")
)

// Manager owns the session store. Every read-modify-write of a record runs
// under its mutex, so the capture loop and the operator API can share it.
type Manager struct {
	mu    sync.Mutex
	store storage.Store
}

// NewManager creates a session manager on top of store
func NewManager(store storage.Store) *Manager {
	return &Manager{store: store}
}

// CreateSession stores an all-unset record under name and makes it current
func (m *Manager) CreateSession(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := storage.ValidateName(name); err != nil {
		return err
	}
	if _, err := m.store.GetSession(ctx, name); err == nil {
		return fmt.Errorf("%w: %s", ErrSessionExists, name)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load session %s: %w", name, err)
	}

	if err := m.store.SaveSession(ctx, name, (&Record{}).Values()); err != nil {
		return fmt.Errorf("save session %s: %w", name, err)
	}
	if err := m.store.SetCurrentSession(ctx, name); err != nil {
		return fmt.Errorf("activate session %s: %w", name, err)
	}

	log.Info().Str("session", name).Msg("Session created")
	return nil
}

// ListSessions returns the stored session names
func (m *Manager) ListSessions(ctx context.Context) ([]string, error) {
	return m.store.ListSessions(ctx)
}

// Activate makes name the current session
func (m *Manager) Activate(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SetCurrentSession(ctx, name); err != nil {
		return fmt.Errorf("activate session %s: %w", name, err)
	}

	log.Info().Str("session", name).Msg("Session activated")
	return nil
}

// Delete removes a session. Deleting the current session leaves no
// session current.
func (m *Manager) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.DeleteSession(ctx, name); err != nil {
		return fmt.Errorf("delete session %s: %w", name, err)
	}

	log.Info().Str("session", name).Msg("Session deleted")
	return nil
}

// Current returns the current session name
func (m *Manager) Current(ctx context.Context) (string, error) {
	name, err := m.store.CurrentSession(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrNoCurrentSession
	}
	return name, err
}

// With returns a handle scoped to name
func (m *Manager) With(name string) *Handle {
	return &Handle{m: m, name: name}
}

// WithCurrent returns a handle scoped to the current session
func (m *Manager) WithCurrent(ctx context.Context) (*Handle, error) {
	name, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}
	return m.With(name), nil
}

// load must be called with m.mu held
func (m *Manager) load(ctx context.Context, name string) (*Record, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	values, err := m.store.GetSession(ctx, name)
	if errors.Is(err, storage.ErrInvalidData) {
		// the stored document itself is unreadable
		return nil, fmt.Errorf("load session %s: %w: %w", name, lorawan.ErrCorruptSessionState, err)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", name, err)
	}
	rec, err := RecordFromValues(values)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", name, err)
	}
	return rec, nil
}

// save must be called with m.mu held
func (m *Manager) save(ctx context.Context, name string, rec *Record) error {
	if err := m.store.SaveSession(ctx, name, rec.Values()); err != nil {
		return fmt.Errorf("save session %s: %w", name, err)
	}
	return nil
}

// Handle reads and writes one session
type Handle struct {
	m    *Manager
	name string
}

// Name returns the session name
func (h *Handle) Name() string {
	return h.name
}

// Record returns a snapshot of the session record
func (h *Handle) Record(ctx context.Context) (*Record, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	return h.m.load(ctx, h.name)
}

// Get returns the hex value of p and whether it is set
func (h *Handle) Get(ctx context.Context, p Param) (string, bool, error) {
	rec, err := h.Record(ctx)
	if err != nil {
		return "", false, err
	}
	v, ok := rec.Get(p)
	return v, ok, nil
}

// Update applies fn to the record and stores the result. Nothing is
// written if fn returns an error.
func (h *Handle) Update(ctx context.Context, fn func(*Record) error) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	rec, err := h.m.load(ctx, h.name)
	if err != nil {
		return err
	}
	if err := fn(rec); err != nil {
		return err
	}
	return h.m.save(ctx, h.name, rec)
}

// Set stores value as p
func (h *Handle) Set(ctx context.Context, p Param, value string) error {
	err := h.Update(ctx, func(r *Record) error {
		return r.Set(p, value)
	})
	if err != nil {
		return err
	}

	log.Debug().Str("session", h.name).Str("param", p.String()).Msg("Session parameter set")
	return nil
}

// Unset clears p
func (h *Handle) Unset(ctx context.Context, p Param) error {
	return h.Update(ctx, func(r *Record) error {
		r.Unset(p)
		return nil
	})
}

// Reset clears every parameter. It also recovers a record that no longer
// loads.
func (h *Handle) Reset(ctx context.Context) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	if err := storage.ValidateName(h.name); err != nil {
		return err
	}
	if _, err := h.m.store.GetSession(ctx, h.name); err != nil && !errors.Is(err, storage.ErrInvalidData) {
		return fmt.Errorf("load session %s: %w", h.name, err)
	}
	return h.m.save(ctx, h.name, &Record{})
}
