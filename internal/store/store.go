// Package store keeps named capture snapshots in a JSON file and mirrors
// every change to optional remote sinks.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"Go2NetCapture/internal/config"
	"Go2NetCapture/internal/model"

	"github.com/c2h5oh/datasize"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Mirror receives the complete saved-capture list of an identity after
// every change. Failures are logged by the store and otherwise ignored.
type Mirror interface {
	Name() string
	Sync(ctx context.Context, identity string, captures []model.SavedCapture) error
	Close() error
}

// Store is the durable list of saved captures, newest first.
type Store struct {
	mu          sync.Mutex
	path        string
	maxFileSize datasize.ByteSize
	captures    []model.SavedCapture
	generation  uint64

	identity    string
	mirrors     []Mirror
	syncTimeout time.Duration
	syncMu      sync.Mutex
	synced      uint64
	syncWg      sync.WaitGroup

	now func() time.Time
	log *zap.SugaredLogger
}

// Option configures a Store.
type Option func(*Store)

// WithMirrors attaches remote mirrors keyed by identity.
func WithMirrors(identity string, mirrors ...Mirror) Option {
	return func(s *Store) {
		s.identity = identity
		s.mirrors = append(s.mirrors, mirrors...)
	}
}

// WithClock replaces the clock used for labels, ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open loads the store file at cfg.Path, creating an empty store if the
// file does not exist yet.
func Open(cfg config.StoreConfig, log *zap.SugaredLogger, options ...Option) (*Store, error) {
	s := &Store{
		path:        cfg.Path,
		maxFileSize: cfg.MaxFileSize,
		syncTimeout: cfg.SyncTimeoutDuration(),
		now:         time.Now,
		log:         log,
	}
	for _, o := range options {
		o(s)
	}
	if s.syncTimeout <= 0 {
		s.syncTimeout = 5 * time.Second
	}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.captures = []model.SavedCapture{}
	case err != nil:
		return nil, &model.PersistenceError{Op: "open", Err: err}
	default:
		if err := json.Unmarshal(data, &s.captures); err != nil {
			return nil, &model.PersistenceError{Op: "open", Err: fmt.Errorf("failed to decode %s: %w", s.path, err)}
		}
		if len(s.captures) > model.MaxSavedCaptures {
			s.captures = s.captures[:model.MaxSavedCaptures]
		}
	}

	s.log.Infow("saved capture store opened", "path", s.path, "captures", len(s.captures), "mirrors", len(s.mirrors))
	return s, nil
}

// Save stores a copy of up to MaxPackets records under label. A blank
// label is replaced by "Capture <local date and time>".
func (s *Store) Save(ctx context.Context, label string, packets []model.PacketRecord) (model.SavedCapture, error) {
	if len(packets) == 0 {
		return model.SavedCapture{}, model.ErrNoPackets
	}
	if len(packets) > model.MaxPackets {
		packets = packets[:model.MaxPackets]
	}

	now := s.now()
	label = strings.TrimSpace(label)
	if label == "" {
		label = "Capture " + now.Format("1/2/2006, 3:04:05 PM")
	}
	snapshot := model.SavedCapture{
		ID:      newID(now),
		Label:   label,
		Packets: append([]model.PacketRecord(nil), packets...),
		SavedAt: now.UTC().Format("2006-01-02T15:04:05.000Z"),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]model.SavedCapture, 0, len(s.captures)+1)
	next = append(next, snapshot)
	next = append(next, s.captures...)
	if len(next) > model.MaxSavedCaptures {
		next = next[:model.MaxSavedCaptures]
	}
	if err := s.commitLocked(ctx, "save", next); err != nil {
		return model.SavedCapture{}, err
	}
	return cloneCapture(snapshot), nil
}

// Get returns a copy of the snapshot with the given id.
func (s *Store) Get(id string) (model.SavedCapture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.captures {
		if c.ID == id {
			return cloneCapture(c), nil
		}
	}
	return model.SavedCapture{}, &model.PersistenceError{Op: "load", Err: model.ErrNotFound}
}

// Load returns a copy of the packets of the snapshot with the given id.
func (s *Store) Load(id string) ([]model.PacketRecord, error) {
	c, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return c.Packets, nil
}

// Delete removes every snapshot whose id is listed and reports how many
// were removed. Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, ids []string) (int, error) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]model.SavedCapture, 0, len(s.captures))
	for _, c := range s.captures {
		if _, ok := drop[c.ID]; !ok {
			next = append(next, c)
		}
	}
	removed := len(s.captures) - len(next)
	if removed == 0 {
		return 0, nil
	}
	if err := s.commitLocked(ctx, "delete", next); err != nil {
		return 0, err
	}
	return removed, nil
}

// List returns the snapshot summaries, newest first.
func (s *Store) List() []model.SavedCaptureSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.SavedCaptureSummary, 0, len(s.captures))
	for _, c := range s.captures {
		out = append(out, c.Summary())
	}
	return out
}

// Close waits for in-flight mirror syncs and closes the mirrors.
func (s *Store) Close() error {
	s.syncWg.Wait()
	var errs []error
	for _, m := range s.mirrors {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s mirror: %w", m.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// commitLocked persists next and, on success, installs it and schedules
// the mirror sync. On failure the in-memory list is left untouched.
func (s *Store) commitLocked(ctx context.Context, op string, next []model.SavedCapture) error {
	if err := ctx.Err(); err != nil {
		return &model.PersistenceError{Op: op, Err: err}
	}
	if err := s.writeFile(next); err != nil {
		return &model.PersistenceError{Op: op, Err: err}
	}
	s.captures = next
	s.generation++
	s.scheduleSync(s.generation, next)
	return nil
}

// writeFile replaces the store file atomically.
func (s *Store) writeFile(captures []model.SavedCapture) error {
	data, err := json.Marshal(captures)
	if err != nil {
		return fmt.Errorf("failed to encode saved captures: %w", err)
	}
	if s.maxFileSize > 0 && datasize.ByteSize(len(data)) > s.maxFileSize {
		return fmt.Errorf("store file would grow to %s, limit is %s", datasize.ByteSize(len(data)).HR(), s.maxFileSize.HR())
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

// scheduleSync pushes the list of generation gen to every mirror in the
// background. A sync that finds a newer generation already pushed is
// skipped, so mirrors never go backwards.
func (s *Store) scheduleSync(gen uint64, captures []model.SavedCapture) {
	if len(s.mirrors) == 0 {
		return
	}

	s.syncWg.Add(1)
	go func() {
		defer s.syncWg.Done()

		s.syncMu.Lock()
		defer s.syncMu.Unlock()
		if gen <= s.synced {
			return
		}
		s.synced = gen

		for _, m := range s.mirrors {
			ctx, cancel := context.WithTimeout(context.Background(), s.syncTimeout)
			err := m.Sync(ctx, s.identity, captures)
			cancel()
			if err != nil {
				s.log.Warnw("saved capture mirror sync failed", "mirror", m.Name(), "identity", s.identity, "error", err)
				continue
			}
			s.log.Debugw("saved capture mirror synced", "mirror", m.Name(), "identity", s.identity, "captures", len(captures))
		}
	}()
}

func newID(now time.Time) string {
	return fmt.Sprintf("pcap-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

func cloneCapture(c model.SavedCapture) model.SavedCapture {
	c.Packets = append([]model.PacketRecord(nil), c.Packets...)
	return c
}
