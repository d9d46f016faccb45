package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	codesFileName    = "codes.json"
	feedbackFileName = "feedback.jsonl"
)

var _ Store = (*FileStore)(nil)

// FileStore keeps the ledger as one JSON document rewritten on every change
// and the feedback log as append-only JSON Lines.
type FileStore struct {
	mu           sync.Mutex
	dir          string
	codes        map[string]AccessCode
	ids          map[string]struct{}
	needsNewline bool
	openLog      func(path string) (appendFile, error)
	logger       zerolog.Logger
}

type appendFile interface {
	io.Writer
	Sync() error
	Close() error
}

func openAppend(path string) (appendFile, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func NewFileStore(dir string, logger zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dir, err)
	}
	s := &FileStore{
		dir:     dir,
		codes:   make(map[string]AccessCode),
		ids:     make(map[string]struct{}),
		openLog: openAppend,
		logger:  logger,
	}
	if err := s.loadCodes(); err != nil {
		return nil, err
	}
	if err := s.indexFeedback(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) codesPath() string    { return filepath.Join(s.dir, codesFileName) }
func (s *FileStore) feedbackPath() string { return filepath.Join(s.dir, feedbackFileName) }

func (s *FileStore) loadCodes() error {
	b, err := os.ReadFile(s.codesPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read code ledger: %w", err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, &s.codes); err != nil {
		return fmt.Errorf("failed to parse code ledger %s: %w", s.codesPath(), err)
	}
	return nil
}

// writeCodesLocked rewrites the ledger through a temp file so a crash never leaves it half written.
func (s *FileStore) writeCodesLocked() error {
	b, err := json.MarshalIndent(s.codes, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal code ledger: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, codesFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.codesPath()); err != nil {
		return fmt.Errorf("failed to replace code ledger: %w", err)
	}
	return nil
}

func (s *FileStore) GetCode(_ context.Context, code string) (*AccessCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *FileStore) PutCode(_ context.Context, c AccessCode) (AccessCode, error) {
	return s.upsert(c, false)
}

func (s *FileStore) AddCodeUses(_ context.Context, c AccessCode) (AccessCode, error) {
	return s.upsert(c, true)
}

func (s *FileStore) upsert(c AccessCode, accumulate bool) (AccessCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	previous, existed := s.codes[c.Code]
	next := c
	if existed {
		next = mergeCode(previous, c, accumulate)
	} else {
		next.CreatedAt = now
	}
	next.UpdatedAt = now

	s.codes[c.Code] = next
	if err := s.writeCodesLocked(); err != nil {
		s.restoreLocked(c.Code, previous, existed)
		return AccessCode{}, err
	}
	return next, nil
}

func (s *FileStore) restoreLocked(code string, previous AccessCode, existed bool) {
	if existed {
		s.codes[code] = previous
	} else {
		delete(s.codes, code)
	}
}

func (s *FileStore) ConsumeCode(_ context.Context, code string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.codes[code]
	if !ok {
		return 0, ErrNotFound
	}
	if previous.UsesLeft <= 0 {
		return 0, ErrExhausted
	}
	next := previous
	next.UsesLeft--
	next.UpdatedAt = time.Now().UTC()
	s.codes[code] = next
	if err := s.writeCodesLocked(); err != nil {
		s.codes[code] = previous
		return 0, err
	}
	return next.UsesLeft, nil
}

func (s *FileStore) ListCodes(_ context.Context) ([]AccessCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedCodes(s.codes), nil
}

// indexFeedback loads the set of known ids so inserts can detect collisions
// without rescanning the log.
func (s *FileStore) indexFeedback() error {
	err := s.scanFeedback(func(e FeedbackEntry) bool {
		s.ids[e.ID] = struct{}{}
		return true
	})
	if err != nil {
		return err
	}
	s.needsNewline, err = s.hasUnterminatedTail()
	return err
}

// hasUnterminatedTail reports whether the log ends mid-line (e.g. after a torn write).
func (s *FileStore) hasUnterminatedTail() (bool, error) {
	f, err := os.Open(s.feedbackPath())
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to open feedback log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("failed to stat feedback log: %w", err)
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, fmt.Errorf("failed to read feedback log tail: %w", err)
	}
	return last[0] != '\n', nil
}

// scanFeedback walks the log in order. Malformed lines are skipped.
func (s *FileStore) scanFeedback(fn func(FeedbackEntry) bool) error {
	f, err := os.Open(s.feedbackPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open feedback log: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	lineNo := 0
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			trimmed := bytes.TrimSpace(line)
			if len(trimmed) > 0 {
				var e FeedbackEntry
				if err := json.Unmarshal(trimmed, &e); err != nil || e.ID == "" {
					s.logger.Warn().Int("line", lineNo).Str("file", s.feedbackPath()).Msg("skipping malformed feedback log line")
				} else if !fn(e) {
					return nil
				}
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("failed to read feedback log: %w", readErr)
		}
	}
}

func (s *FileStore) InsertFeedback(_ context.Context, e FeedbackEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[e.ID]; exists {
		return ErrConflict
	}

	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback entry: %w", err)
	}
	if s.needsNewline {
		b = append([]byte{'\n'}, b...)
	}
	b = append(b, '\n')

	f, err := s.openLog(s.feedbackPath())
	if err != nil {
		return fmt.Errorf("failed to open feedback log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(b); err != nil {
		// The log may now end mid-line; start the next record on a fresh one.
		s.needsNewline = true
		return fmt.Errorf("failed to append feedback entry: %w", err)
	}
	// The record is complete in the file from here on, even if the sync fails.
	s.needsNewline = false
	s.ids[e.ID] = struct{}{}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync feedback log: %w", err)
	}
	return nil
}

func (s *FileStore) GetFeedback(_ context.Context, id string) (*FeedbackEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; !ok {
		return nil, ErrNotFound
	}
	var found *FeedbackEntry
	err := s.scanFeedback(func(e FeedbackEntry) bool {
		if e.ID == id {
			found = &e
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *FileStore) ListFeedback(_ context.Context) ([]FeedbackEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []FeedbackEntry{}
	err := s.scanFeedback(func(e FeedbackEntry) bool {
		out = append(out, e)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
