// Package pollinggroup implements PollingGroup, the Tier 2 rate-limited
// background reconciler: notes that fell behind
// (or were handed off by ActivitySync) sit in a queue and get polled on a
// token-bucket schedule that favors visible, recently-edited, or
// handed-off notes without starving everything else.
//
// The token-bucket mechanics — refill rate, a hard burst cap, a reserved
// fraction for a second class of work — are the same shape as a bandwidth
// limiter, applied here to poll attempts instead of transferred bytes.
package pollinggroup

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Reason names why an entry is in the queue.
type Reason string

const (
	ReasonFastPathHandoff Reason = "fast-path-handoff"
	ReasonOpenNote        Reason = "open-note"
	ReasonNotesList       Reason = "notes-list"
	ReasonRecentEdit      Reason = "recent-edit"
	ReasonFullRepoll      Reason = "full-repoll"
)

// Priority determines token-bucket quota treatment. High priority means
// the note is currently visible to the user.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Entry is one queued note awaiting reconciliation.
type Entry struct {
	NoteID            string
	SDID              string
	ExpectedSequences map[string]uint64
	AddedAt           time.Time
	LastPolledAt       time.Time
	LastEditAt        time.Time // used only when Reason == ReasonRecentEdit
	Reason            Reason
	Priority          Priority
}

// Settings holds the token-bucket tunables, all with their defaults below.
type Settings struct {
	PollRatePerMinute     float64
	HitRateMultiplier     float64
	MaxBurstPerSecond     float64
	NormalPriorityReserve float64
	RecentEditWindow      time.Duration
	FullRepollInterval    time.Duration
}

// DefaultSettings returns the baseline token-bucket tunables.
func DefaultSettings() Settings {
	return Settings{
		PollRatePerMinute:     120,
		HitRateMultiplier:     0.25,
		MaxBurstPerSecond:     10,
		NormalPriorityReserve: 0.2,
		RecentEditWindow:      5 * time.Minute,
		FullRepollInterval:    30 * time.Minute,
	}
}

// reserveEpsilon is the ε in "≥ normalPriorityReserve - ε" (Testable
// Property 6): the reserve is enforced on a best-effort per-tick basis, so
// a small tolerance absorbs rounding at window boundaries.
const reserveEpsilon = 0.02

// Poller invokes pollAndReload for one entry: read the note from disk and
// merge it into the in-memory CRDT state. satisfied reports whether the
// poll observed everything expectedSequences required (always true for
// full-repoll and steady-state entries, which have no expectations).
type Poller interface {
	PollAndReload(ctx context.Context, entry Entry) (satisfied bool, err error)
}

// VisibilityTracker reports whether windows still care about a note, so
// open-note/notes-list entries can be retired without a poll.
type VisibilityTracker interface {
	IsOpen(noteID string) bool
	IsInVisibleList(noteID string) bool
}

// NoteLister enumerates every note in an SD, for full-repoll sweeps.
type NoteLister interface {
	AllNoteIDs(sdID string) ([]string, error)
}

type tickRecord struct {
	at       time.Time
	priority Priority
}

// Group is one SD's PollingGroup queue and scheduler.
type Group struct {
	settings Settings
	poller   Poller
	tracker  VisibilityTracker
	lister   NoteLister
	now      func() time.Time

	mu       sync.Mutex
	entries  map[string]*Entry
	tokens   float64
	lastFill time.Time
	ticks    []tickRecord
}

// Option configures a Group at construction time.
type Option func(*Group)

// WithClock overrides time.Now, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(g *Group) { g.now = now }
}

// New constructs a Group. tracker may be nil if the caller never uses
// open-note/notes-list reasons; lister may be nil if full-repoll sweeps
// are never started.
func New(settings Settings, poller Poller, tracker VisibilityTracker, lister NoteLister, opts ...Option) *Group {
	g := &Group{
		settings: settings,
		poller:   poller,
		tracker:  tracker,
		lister:   lister,
		now:      time.Now,
		entries:  make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.lastFill = g.now()
	g.tokens = settings.MaxBurstPerSecond
	return g
}

// AddEntry queues noteID for polling, or upgrades an existing entry's
// reason/priority/expectations if it is already queued (entries are
// deduplicated by NoteID — a note carries the union of why it's due, not
// multiple concurrent reasons).
func (g *Group) AddEntry(e Entry) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if e.AddedAt.IsZero() {
		e.AddedAt = now
	}
	existing, ok := g.entries[e.NoteID]
	if !ok {
		cp := e
		g.entries[e.NoteID] = &cp
		return
	}

	existing.Reason = e.Reason
	existing.Priority = e.Priority
	if e.LastEditAt.After(existing.LastEditAt) {
		existing.LastEditAt = e.LastEditAt
	}
	for peer, seq := range e.ExpectedSequences {
		if existing.ExpectedSequences == nil {
			existing.ExpectedSequences = make(map[string]uint64)
		}
		if seq > existing.ExpectedSequences[peer] {
			existing.ExpectedSequences[peer] = seq
		}
	}
}

// Remove drops noteID from the queue unconditionally.
func (g *Group) Remove(noteID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, noteID)
}

// Len reports the current queue size, mostly for tests and diagnostics.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Settings returns the group's current tunables.
func (g *Group) Settings() Settings {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settings
}

// SetSettings replaces the group's tunables, for polling.setSettings. The
// token bucket is not reset, so a newly raised MaxBurstPerSecond takes
// effect gradually as refillLocked runs rather than granting an
// instantaneous burst.
func (g *Group) SetSettings(s Settings) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settings = s
}

// Has reports whether noteID is currently queued.
func (g *Group) Has(noteID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.entries[noteID]
	return ok
}

// SeedFullRepoll enqueues every note in sdID with reason full-repoll,
// normal priority. Called at startup and, if FullRepollInterval > 0,
// periodically thereafter (see RunFullRepollLoop).
func (g *Group) SeedFullRepoll(sdID string) error {
	if g.lister == nil {
		return nil
	}
	noteIDs, err := g.lister.AllNoteIDs(sdID)
	if err != nil {
		return err
	}
	now := g.now()
	for _, id := range noteIDs {
		g.AddEntry(Entry{
			NoteID:   id,
			SDID:     sdID,
			AddedAt:  now,
			Reason:   ReasonFullRepoll,
			Priority: PriorityNormal,
		})
	}
	return nil
}

// RunFullRepollLoop seeds a full-repoll sweep immediately, then again on
// every FullRepollInterval tick, until ctx is cancelled. A zero interval
// disables the periodic sweep (the initial seed still runs once).
func (g *Group) RunFullRepollLoop(ctx context.Context, sdID string) error {
	if err := g.SeedFullRepoll(sdID); err != nil {
		return err
	}
	if g.settings.FullRepollInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(g.settings.FullRepollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := g.SeedFullRepoll(sdID); err != nil {
				return err
			}
		}
	}
}

func (g *Group) pruneExpiredLocked() {
	now := g.now()
	for id, e := range g.entries {
		switch e.Reason {
		case ReasonOpenNote:
			if g.tracker != nil && !g.tracker.IsOpen(id) {
				delete(g.entries, id)
			}
		case ReasonNotesList:
			if g.tracker != nil && !g.tracker.IsInVisibleList(id) {
				delete(g.entries, id)
			}
		case ReasonRecentEdit:
			if now.Sub(e.LastEditAt) >= g.settings.RecentEditWindow {
				delete(g.entries, id)
			}
		}
	}
}

func (g *Group) refillLocked() {
	now := g.now()
	elapsed := now.Sub(g.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	g.lastFill = now
	g.tokens += elapsed * (g.settings.PollRatePerMinute / 60.0)
	if g.tokens > g.settings.MaxBurstPerSecond {
		g.tokens = g.settings.MaxBurstPerSecond
	}
}

func (g *Group) pruneTickLogLocked() {
	cutoff := g.now().Add(-60 * time.Second)
	i := 0
	for i < len(g.ticks) && g.ticks[i].at.Before(cutoff) {
		i++
	}
	g.ticks = g.ticks[i:]
}

func (g *Group) normalFractionLocked() float64 {
	if len(g.ticks) == 0 {
		return 1 // nothing served yet; no starvation to protect against
	}
	normal := 0
	for _, t := range g.ticks {
		if t.priority == PriorityNormal {
			normal++
		}
	}
	return float64(normal) / float64(len(g.ticks))
}

// selectLocked picks the next entry to poll, honoring normalPriorityReserve:
// if the trailing-60s normal-priority share is below its reserve and a
// normal entry is due, serve it before any high-priority entry,
// regardless of age.
func (g *Group) selectLocked() *Entry {
	var oldestHigh, oldestNormal *Entry
	for _, e := range g.entries {
		switch e.Priority {
		case PriorityHigh:
			if oldestHigh == nil || e.LastPolledAt.Before(oldestHigh.LastPolledAt) {
				oldestHigh = e
			}
		default:
			if oldestNormal == nil || e.LastPolledAt.Before(oldestNormal.LastPolledAt) {
				oldestNormal = e
			}
		}
	}

	if oldestNormal != nil && g.normalFractionLocked() < g.settings.NormalPriorityReserve-reserveEpsilon {
		return oldestNormal
	}
	if oldestHigh != nil {
		return oldestHigh
	}
	return oldestNormal
}

func (g *Group) applyExitLocked(e *Entry, satisfied bool) {
	switch e.Reason {
	case ReasonFastPathHandoff:
		if satisfied {
			delete(g.entries, e.NoteID)
		}
	case ReasonFullRepoll:
		delete(g.entries, e.NoteID) // "polled once".9
	case ReasonOpenNote, ReasonNotesList, ReasonRecentEdit:
		// exits are evaluated by pruneExpiredLocked, not by poll outcome
	}
}

// Tick runs one scheduling step: prune expired entries, and if the token
// bucket and priority reserve permit, poll the next due entry. polled is
// false if nothing was due or the bucket had no tokens available.
func (g *Group) Tick(ctx context.Context) (polled bool, err error) {
	g.mu.Lock()
	g.refillLocked()
	g.pruneExpiredLocked()
	g.pruneTickLogLocked()

	if g.tokens < 1.0 {
		g.mu.Unlock()
		return false, nil
	}
	entry := g.selectLocked()
	if entry == nil {
		g.mu.Unlock()
		return false, nil
	}
	cp := *entry
	g.tokens -= 1.0
	g.ticks = append(g.ticks, tickRecord{at: g.now(), priority: entry.Priority})
	g.mu.Unlock()

	satisfied, perr := g.poller.PollAndReload(ctx, cp)

	g.mu.Lock()
	defer g.mu.Unlock()
	e, stillQueued := g.entries[cp.NoteID]
	if !stillQueued {
		return true, perr
	}
	e.LastPolledAt = g.now()
	if satisfied {
		// A successful poll is cheap: refund the discount so active sync
		// accelerates rather than draining the bucket at the steady rate.
		refund := 1.0 - g.settings.HitRateMultiplier
		g.tokens += refund
		if g.tokens > g.settings.MaxBurstPerSecond {
			g.tokens = g.settings.MaxBurstPerSecond
		}
	}
	g.applyExitLocked(e, satisfied)
	return true, perr
}

// Snapshot returns a copy of every queued entry, sorted by NoteID, for
// diagnostics and tests.
func (g *Group) Snapshot() []Entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Entry, 0, len(g.entries))
	for _, e := range g.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NoteID < out[j].NoteID })
	return out
}
