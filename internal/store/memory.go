package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps everything in process memory. Used by tests and STORE_BACKEND=memory.
type MemoryStore struct {
	mu      sync.Mutex
	codes   map[string]AccessCode
	entries map[string]FeedbackEntry
	order   []string
	nowFunc func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codes:   make(map[string]AccessCode),
		entries: make(map[string]FeedbackEntry),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) GetCode(_ context.Context, code string) (*AccessCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) PutCode(_ context.Context, c AccessCode) (AccessCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.upsertLocked(c, false), nil
}

func (s *MemoryStore) AddCodeUses(_ context.Context, c AccessCode) (AccessCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.upsertLocked(c, true), nil
}

func (s *MemoryStore) upsertLocked(c AccessCode, accumulate bool) AccessCode {
	now := s.nowFunc()
	existing, ok := s.codes[c.Code]
	if !ok {
		c.CreatedAt = now
		c.UpdatedAt = now
		s.codes[c.Code] = c
		return c
	}
	existing = mergeCode(existing, c, accumulate)
	existing.UpdatedAt = now
	s.codes[c.Code] = existing
	return existing
}

func (s *MemoryStore) ConsumeCode(_ context.Context, code string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[code]
	if !ok {
		return 0, ErrNotFound
	}
	if c.UsesLeft <= 0 {
		return 0, ErrExhausted
	}
	c.UsesLeft--
	c.UpdatedAt = s.nowFunc()
	s.codes[code] = c
	return c.UsesLeft, nil
}

func (s *MemoryStore) ListCodes(_ context.Context) ([]AccessCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedCodes(s.codes), nil
}

func (s *MemoryStore) InsertFeedback(_ context.Context, e FeedbackEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[e.ID]; exists {
		return ErrConflict
	}
	s.entries[e.ID] = e
	s.order = append(s.order, e.ID)
	return nil
}

func (s *MemoryStore) GetFeedback(_ context.Context, id string) (*FeedbackEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (s *MemoryStore) ListFeedback(_ context.Context) ([]FeedbackEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]FeedbackEntry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out, nil
}

// mergeCode applies an incoming write to an existing record.
func mergeCode(existing, in AccessCode, accumulate bool) AccessCode {
	if accumulate {
		existing.UsesLeft += in.UsesLeft
	} else {
		existing.UsesLeft = in.UsesLeft
	}
	if in.Email != "" {
		existing.Email = in.Email
	}
	if in.Plan != "" {
		existing.Plan = in.Plan
	}
	return existing
}

func sortedCodes(m map[string]AccessCode) []AccessCode {
	out := make([]AccessCode, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
