// Package reminder implements the poll-fired reminder scheduler (spec
// §4.5, C5): one-shot and 5-field cron-style reminders with the
// invariant "fire at most once per match". State is a single JSON blob
// owned exclusively by this package and persisted through objectstore.
package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oscillatelabsllc/memoria/internal/objectstore"
)

// indexKey is the fixed location of the persisted reminder blob (spec §6).
const indexKey = "reminders/index.json"

// Type enumerates reminder kinds.
type Type string

const (
	TypeOnce Type = "once"
	TypeCron Type = "cron"
)

// Reminder is a single scheduled item.
type Reminder struct {
	ID          string     `json:"id"`
	Type        Type       `json:"type"`
	Expression  string     `json:"expression"`
	Description string     `json:"description"`
	Payload     string     `json:"payload,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastFired   *time.Time `json:"lastFired,omitempty"`
}

// Scheduler owns the reminder blob. All mutations serialize on mu.
type Scheduler struct {
	store objectstore.Store
	mu    sync.Mutex
}

// NewScheduler creates a scheduler backed by store.
func NewScheduler(store objectstore.Store) *Scheduler {
	return &Scheduler{store: store}
}

func (s *Scheduler) load(ctx context.Context) ([]Reminder, error) {
	f, err := s.store.Read(ctx, indexKey)
	if err != nil {
		return nil, fmt.Errorf("reminder: load index: %w", err)
	}
	if f == nil {
		return []Reminder{}, nil
	}
	var reminders []Reminder
	if err := json.Unmarshal([]byte(f.Content), &reminders); err != nil {
		return nil, fmt.Errorf("reminder: parse index: %w", err)
	}
	return reminders, nil
}

func (s *Scheduler) save(ctx context.Context, reminders []Reminder) error {
	data, err := json.Marshal(reminders)
	if err != nil {
		return fmt.Errorf("reminder: marshal index: %w", err)
	}
	if _, err := s.store.Write(ctx, indexKey, string(data)); err != nil {
		return fmt.Errorf("reminder: persist index: %w", err)
	}
	return nil
}

// List returns all reminders, ordered by creation time.
func (s *Scheduler) List(ctx context.Context) ([]Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminders, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(reminders, func(i, j int) bool { return reminders[i].CreatedAt.Before(reminders[j].CreatedAt) })
	return reminders, nil
}

// Get returns a single reminder by id, or nil if it doesn't exist.
func (s *Scheduler) Get(ctx context.Context, id string) (*Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminders, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range reminders {
		if reminders[i].ID == id {
			return &reminders[i], nil
		}
	}
	return nil, nil
}

// Schedule upserts r by id. If r.ID is empty, a new id is generated.
func (s *Scheduler) Schedule(ctx context.Context, r Reminder) (Reminder, error) {
	if r.Type != TypeOnce && r.Type != TypeCron {
		return Reminder{}, fmt.Errorf("reminder: invalid type %q", r.Type)
	}
	if r.Type == TypeOnce {
		if _, err := time.Parse(time.RFC3339, r.Expression); err != nil {
			return Reminder{}, fmt.Errorf("reminder: once expression must be RFC3339: %w", err)
		}
	} else {
		if _, err := parseCron(r.Expression); err != nil {
			return Reminder{}, fmt.Errorf("reminder: invalid cron expression: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reminders, err := s.load(ctx)
	if err != nil {
		return Reminder{}, err
	}

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	replaced := false
	for i := range reminders {
		if reminders[i].ID == r.ID {
			reminders[i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		reminders = append(reminders, r)
	}

	if err := s.save(ctx, reminders); err != nil {
		return Reminder{}, err
	}
	return r, nil
}

// Remove deletes a reminder by id. Returns false if it did not exist.
func (s *Scheduler) Remove(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminders, err := s.load(ctx)
	if err != nil {
		return false, err
	}

	out := reminders[:0]
	removed := false
	for _, r := range reminders {
		if r.ID == id {
			removed = true
			continue
		}
		out = append(out, r)
	}
	if !removed {
		return false, nil
	}
	if err := s.save(ctx, out); err != nil {
		return false, err
	}
	return true, nil
}

// Check evaluates every reminder against now (UTC) and returns those that
// fired. A "once" reminder fires and is removed the first time it is due.
// A "cron" reminder fires when its expression matches now AND lastFired is
// not within the same UTC (year, month, day, hour, minute) — so at most
// once per matching minute, across any number of Check calls within it.
func (s *Scheduler) Check(ctx context.Context, now time.Time) ([]Reminder, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	reminders, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	var fired []Reminder
	var remaining []Reminder
	changed := false

	for _, r := range reminders {
		switch r.Type {
		case TypeOnce:
			due, err := time.Parse(time.RFC3339, r.Expression)
			if err != nil {
				remaining = append(remaining, r)
				continue
			}
			if !due.After(now) {
				fired = append(fired, r)
				changed = true
				continue // one-shot: do not keep
			}
			remaining = append(remaining, r)

		case TypeCron:
			matcher, err := parseCron(r.Expression)
			if err != nil {
				// Invalid cron expressions never match (spec §4.5).
				remaining = append(remaining, r)
				continue
			}
			if matcher(now) && !sameMinute(r.LastFired, now) {
				firedAt := now
				r.LastFired = &firedAt
				fired = append(fired, r)
				changed = true
			}
			remaining = append(remaining, r)

		default:
			remaining = append(remaining, r)
		}
	}

	if changed {
		if err := s.save(ctx, remaining); err != nil {
			return nil, err
		}
	}
	return fired, nil
}

func sameMinute(last *time.Time, now time.Time) bool {
	if last == nil {
		return false
	}
	l := last.UTC()
	return l.Year() == now.Year() && l.Month() == now.Month() && l.Day() == now.Day() &&
		l.Hour() == now.Hour() && l.Minute() == now.Minute()
}
