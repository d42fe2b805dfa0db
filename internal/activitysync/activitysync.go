// Package activitysync implements ActivitySync, the Tier 1 "fast path"
// reconciler: it tails every peer's
// activity/<id>.log, and for each newly observed write schedules a
// short-backoff poll that reloads the note as soon as the peer's own
// `.crdtlog` file visibly contains the sequence it claimed to write.
// Entries that do not resolve within fastPathMaxDelay hand off to
// PollingGroup (Tier 2) rather than retrying forever.
//
// The retry shape — a fixed schedule of increasing delays, bail out once
// the budget is exhausted — is the same one used for transient remote-API
// failures elsewhere, applied here to local file visibility instead of
// HTTP retries.
package activitysync

import (
	"context"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/notecove/notecove/internal/activitylog"
	"github.com/notecove/notecove/internal/fsadapter"
	"github.com/notecove/notecove/internal/logcodec"
)

// BackoffSchedule is the exponential retry schedule.
var BackoffSchedule = []time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	500 * time.Millisecond,
	1000 * time.Millisecond,
	2000 * time.Millisecond,
	3000 * time.Millisecond,
	5000 * time.Millisecond,
	7000 * time.Millisecond,
	10000 * time.Millisecond,
	15000 * time.Millisecond,
	30000 * time.Millisecond,
}

const (
	// DefaultFastPathMaxDelay is the cumulative retry budget after which an
	// entry hands off to Tier 2.
	DefaultFastPathMaxDelay = 60 * time.Second
	// SequenceGapThreshold: if a peer's highest visible sequence trails the
	// expected sequence by more than this, the fast path gives up early and
	// hands off immediately rather than retrying the full schedule.
	SequenceGapThreshold uint64 = 50
)

// NoteReloader is the subset of NoteDoc/Coordinator behavior ActivitySync
// needs: reload a note from disk, and report this instance's own highest
// written sequence (for stale self-entry cleanup).
type NoteReloader interface {
	Reload(noteID string) error
	OwnHighestSequence(noteID string) (uint64, bool)
}

// HandoffEntry is what Tier 2 (PollingGroup) receives when a fast-path
// entry exceeds its delay budget or sequence-gap threshold.
type HandoffEntry struct {
	NoteID            string
	ExpectedSequences map[string]uint64 // peerInstanceId -> expectedSeq
	Reason            string
}

// Sleeper abstracts time.Sleep so tests can run the backoff schedule
// instantly via a fake clock.
type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Sync is one SD's ActivitySync instance.
type Sync struct {
	adapter    fsadapter.Adapter
	instanceID string
	reloader   NoteReloader
	handoff    func(HandoffEntry)
	sleeper    Sleeper
	logger     *slog.Logger

	fastPathMaxDelay time.Duration

	mu         sync.Mutex
	watermarks map[string]int                 // peerInstanceId -> byte offset into its activity log
	expected   map[string]map[string]uint64   // noteId -> peerInstanceId -> expectedSeq
	pending    map[string]bool                // noteId -> a poll goroutine is already running
}

// Option configures a Sync at construction time.
type Option func(*Sync)

// WithFastPathMaxDelay overrides the default 60s handoff budget.
func WithFastPathMaxDelay(d time.Duration) Option {
	return func(s *Sync) { s.fastPathMaxDelay = d }
}

// WithSleeper overrides the real time.Sleep-backed scheduler, for tests.
func WithSleeper(sl Sleeper) Option {
	return func(s *Sync) { s.sleeper = sl }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sync) { s.logger = l }
}

// New constructs a Sync for one SD. reloader dispatches Reload calls to the
// right NoteDoc; handoff receives entries that exceed the fast path's
// budget.
func New(a fsadapter.Adapter, instanceID string, reloader NoteReloader, handoff func(HandoffEntry), opts ...Option) *Sync {
	s := &Sync{
		adapter:          a,
		instanceID:       instanceID,
		reloader:         reloader,
		handoff:          handoff,
		sleeper:          realSleeper{},
		logger:           slog.Default(),
		fastPathMaxDelay: DefaultFastPathMaxDelay,
		watermarks:       make(map[string]int),
		expected:         make(map[string]map[string]uint64),
		pending:          make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PeerInstanceIDs lists every peer instance with an activity log, excluding
// this instance's own file ( "Own-file skipping": parse the
// filename's instanceId, never substring-match it).
func (s *Sync) PeerInstanceIDs() ([]string, error) {
	names, err := s.adapter.ListDir("activity")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, name := range names {
		const suffix = ".log"
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		id := strings.TrimSuffix(name, suffix)
		if id == "" || id == s.instanceID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ProcessPeerLog reads whatever is new in peerInstanceID's activity log
// past this Sync's watermark, updates expectedSequences, and schedules a
// poll for every touched note. Call this on a file-watcher event for that
// peer's log, or periodically as a catch-all.
func (s *Sync) ProcessPeerLog(peerInstanceID string) error {
	if peerInstanceID == s.instanceID {
		return nil
	}

	s.mu.Lock()
	offset := s.watermarks[peerInstanceID]
	s.mu.Unlock()

	records, newOffset, err := activitylog.ReadFrom(s.adapter, peerInstanceID, offset)
	if err != nil {
		return err
	}

	touched := make(map[string]bool)
	s.mu.Lock()
	for _, rec := range records {
		if rec.InstanceID == s.instanceID {
			// Stale self-entry: a peer's log pointing back at our own
			// instanceId, possible after a crash/instanceId reuse.
			if have, ok := s.reloader.OwnHighestSequence(rec.NoteID); ok && have >= rec.Sequence {
				continue // already have it; nothing to do
			}
			// We never produced this sequence. Self-heal by not blocking
			// on it rather than waiting for a write that will never come.
			continue
		}

		if s.expected[rec.NoteID] == nil {
			s.expected[rec.NoteID] = make(map[string]uint64)
		}
		if rec.Sequence > s.expected[rec.NoteID][rec.InstanceID] {
			s.expected[rec.NoteID][rec.InstanceID] = rec.Sequence
		}
		touched[rec.NoteID] = true
	}
	s.watermarks[peerInstanceID] = newOffset
	s.mu.Unlock()

	for noteID := range touched {
		s.schedulePoll(noteID)
	}
	return nil
}

// schedulePoll starts the backoff retry loop for noteID unless one is
// already running.
func (s *Sync) schedulePoll(noteID string) {
	s.mu.Lock()
	if s.pending[noteID] {
		s.mu.Unlock()
		return
	}
	s.pending[noteID] = true
	s.mu.Unlock()

	go func() {
		s.runPollLoop(noteID)
		s.mu.Lock()
		delete(s.pending, noteID)
		s.mu.Unlock()
	}()
}

func (s *Sync) runPollLoop(noteID string) {
	var cumulative time.Duration
	for _, delay := range BackoffSchedule {
		s.sleeper.Sleep(delay)
		cumulative += delay

		satisfied, tooFarGone, err := s.pollOnce(noteID)
		if err != nil {
			s.logger.Warn("activitysync: poll failed", slog.String("note", noteID), slog.Any("err", err))
		}
		if satisfied {
			return
		}
		if tooFarGone {
			s.handOff(noteID)
			return
		}
		if cumulative >= s.fastPathMaxDelay {
			s.handOff(noteID)
			return
		}
	}
	s.handOff(noteID)
}

// pollOnce checks whether every outstanding expectation for noteID is now
// satisfied by the corresponding peer's on-disk log. It returns
// tooFarGone=true if any peer's gap exceeds SequenceGapThreshold, in which
// case the fast path gives up immediately rather than exhausting the whole
// backoff schedule.
func (s *Sync) pollOnce(noteID string) (satisfied, tooFarGone bool, err error) {
	s.mu.Lock()
	expected := make(map[string]uint64, len(s.expected[noteID]))
	for peer, seq := range s.expected[noteID] {
		expected[peer] = seq
	}
	s.mu.Unlock()

	if len(expected) == 0 {
		return true, false, nil
	}

	allSatisfied := true
	for peer, want := range expected {
		highest, found, herr := PeerHighestSequence(s.adapter, noteID, peer)
		if herr != nil {
			err = herr
			allSatisfied = false
			continue
		}
		if !found || highest < want {
			allSatisfied = false
			if want-highest > SequenceGapThreshold {
				tooFarGone = true
			}
		}
	}

	if allSatisfied {
		s.mu.Lock()
		delete(s.expected, noteID)
		s.mu.Unlock()
		if rerr := s.reloader.Reload(noteID); rerr != nil {
			return false, false, rerr
		}
		return true, false, nil
	}

	return false, tooFarGone, err
}

func (s *Sync) handOff(noteID string) {
	s.mu.Lock()
	expected := s.expected[noteID]
	delete(s.expected, noteID)
	s.mu.Unlock()

	if len(expected) == 0 {
		return
	}
	s.handoff(HandoffEntry{NoteID: noteID, ExpectedSequences: expected, Reason: "fast-path-handoff"})
}

// PeerHighestSequence returns the highest sequence peerInstanceID has
// written to noteID's log, by finding that peer's log file (named
// "<peerInstanceID>_<firstTs>.crdtlog") and reading its records. found is
// false if the peer has no log file for this note yet.
func PeerHighestSequence(a fsadapter.Adapter, noteID, peerInstanceID string) (highest uint64, found bool, err error) {
	dir := path.Join("notes", noteID, "logs")
	names, err := a.ListDir(dir)
	if err != nil {
		return 0, false, err
	}

	prefix := peerInstanceID + "_"
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		records, _ := logcodec.ReadAll(a, path.Join(dir, name))
		for _, rec := range records {
			found = true
			if rec.Sequence > highest {
				highest = rec.Sequence
			}
		}
	}
	return highest, found, nil
}

// RunOnce processes every known peer's activity log once — the entry point
// a file-watcher event handler or a periodic fallback tick calls.
func (s *Sync) RunOnce(ctx context.Context) error {
	peers, err := s.PeerInstanceIDs()
	if err != nil {
		return err
	}
	for _, peer := range peers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.ProcessPeerLog(peer); err != nil {
			s.logger.Warn("activitysync: processing peer log failed", slog.String("peer", peer), slog.Any("err", err))
		}
	}
	return nil
}
