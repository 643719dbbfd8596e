// Package chatsync owns the background chat catalogue sync: a single-flight
// job that pulls groups and contacts from the provider, merges them, and
// reconciles the stored chat list.
package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/erauner12/wa-gateway/internal/evolution"
	"github.com/erauner12/wa-gateway/internal/store"
)

// ErrSyncRunning is returned by Start while a sync is already in flight.
var ErrSyncRunning = errors.New("sync already running")

// Progress states.
const (
	StateIdle             = "idle"
	StateFetchingGroups   = "fetching_groups"
	StateFetchingContacts = "fetching_contacts"
	StateSaving           = "saving"
	StateComplete         = "complete"
	StateError            = "error"
)

// idleAfter is how long a completed sync's progress stays visible before
// reverting to idle.
const idleAfter = 30 * time.Second

// Provider is the catalogue surface of the upstream client.
type Provider interface {
	ListGroups(ctx context.Context, instance string) ([]evolution.CatalogEntry, error)
	ListContacts(ctx context.Context, instance string) ([]evolution.CatalogEntry, error)
}

// Store is the persistence surface of the sync.
type Store interface {
	ReplaceChatCatalog(ctx context.Context, entries []store.ChatUpsert, syncStart time.Time) (upserted, removed int64, err error)
}

// Progress is the externally visible state of the current (or last) sync.
type Progress struct {
	State       string     `json:"state"`
	Step        string     `json:"step"`
	Groups      int        `json:"groups"`
	Contacts    int        `json:"contacts"`
	Saved       int64      `json:"saved"`
	Removed     int64      `json:"removed"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Coordinator runs at most one sync at a time and publishes its progress.
type Coordinator struct {
	store    Store
	provider Provider
	instance string

	mu       sync.Mutex
	running  bool
	gen      int
	progress Progress
}

// New builds a coordinator in the idle state.
func New(st Store, p Provider, instance string) *Coordinator {
	return &Coordinator{
		store:    st,
		provider: p,
		instance: instance,
		progress: Progress{State: StateIdle},
	}
}

// Start begins a sync on a background goroutine. Returns ErrSyncRunning if
// one is already in flight; exactly one concurrent caller acquires the slot.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrSyncRunning
	}
	c.running = true
	c.gen++
	now := time.Now()
	c.progress = Progress{
		State:     StateFetchingGroups,
		Step:      "fetching groups",
		StartedAt: &now,
	}

	// The sync outlives the triggering request; shutdown is the only
	// cancellation.
	go c.run(context.Background(), c.gen, now)
	return nil
}

// Progress returns a copy of the current progress record.
func (c *Coordinator) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

func (c *Coordinator) run(ctx context.Context, gen int, startedAt time.Time) {
	log.Info().Str("instance", c.instance).Msg("chat sync started")

	// Either listing may fail without aborting the sync; the other side's
	// catalogue is still worth persisting.
	groups, err := c.provider.ListGroups(ctx, c.instance)
	if err != nil {
		log.Warn().Err(err).Msg("group listing failed, continuing")
	}
	c.update(gen, func(p *Progress) {
		p.State = StateFetchingContacts
		p.Step = fmt.Sprintf("fetching contacts (%d groups found)", len(groups))
		p.Groups = len(groups)
	})

	contacts, err := c.provider.ListContacts(ctx, c.instance)
	if err != nil {
		log.Warn().Err(err).Msg("contact listing failed, continuing")
	}
	c.update(gen, func(p *Progress) {
		p.State = StateSaving
		p.Step = fmt.Sprintf("saving %d chats", len(groups)+len(contacts))
		p.Contacts = len(contacts)
	})

	entries := merge(groups, contacts)
	saved, removed, err := c.store.ReplaceChatCatalog(ctx, entries, startedAt)
	if err != nil {
		log.Error().Err(err).Msg("chat sync failed")
		c.finish(gen, func(p *Progress) {
			p.State = StateError
			p.Step = "failed"
			p.Error = err.Error()
		})
		return
	}

	log.Info().
		Int("groups", len(groups)).
		Int("contacts", len(contacts)).
		Int64("saved", saved).
		Int64("removed", removed).
		Msg("chat sync complete")

	c.finish(gen, func(p *Progress) {
		p.State = StateComplete
		p.Step = "complete"
		p.Saved = saved
		p.Removed = removed
	})

	time.AfterFunc(idleAfter, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen == gen && !c.running {
			c.progress = Progress{State: StateIdle}
		}
	})
}

func (c *Coordinator) update(gen int, f func(*Progress)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	f(&c.progress)
}

func (c *Coordinator) finish(gen int, f func(*Progress)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	f(&c.progress)
	now := time.Now()
	c.progress.CompletedAt = &now
	c.running = false
}

// merge unions the group and contact catalogues by id. On collision the
// entry with the longer name wins, and any known activity timestamp is
// kept.
func merge(groups, contacts []evolution.CatalogEntry) []store.ChatUpsert {
	byID := map[string]evolution.CatalogEntry{}
	for _, e := range append(append([]evolution.CatalogEntry{}, groups...), contacts...) {
		prev, ok := byID[e.ID]
		if !ok {
			byID[e.ID] = e
			continue
		}
		if len(e.Name) > len(prev.Name) {
			prev.Name = e.Name
		}
		if prev.LastActivity == nil && e.LastActivity != nil {
			prev.LastActivity = e.LastActivity
		}
		if prev.PhoneNumber == nil {
			prev.PhoneNumber = e.PhoneNumber
		}
		byID[e.ID] = prev
	}

	out := make([]store.ChatUpsert, 0, len(byID))
	for _, e := range byID {
		out = append(out, store.ChatUpsert{
			ID:            e.ID,
			ChatType:      store.ChatTypeFromID(e.ID),
			Name:          e.Name,
			PhoneNumber:   e.PhoneNumber,
			LastMessageAt: e.LastActivity,
		})
	}
	return out
}
