// Package crdt provides the one concrete CRDT implementation this module
// ships: a minimal last-writer-wins op-log document satisfying an opaque
// "apply update / encode state / observe" contract that is deliberately
// swappable. Nothing above this package inspects the CRDT algebra
// directly — NoteDoc and FolderTreeDoc program against Doc's methods,
// except that FolderTreeDoc also calls OpLogDoc.FieldsWithPrefix, so a
// real CRDT library (Yjs-over-cgo, Automerge, etc.) replacing OpLogDoc
// needs an equivalent of that one method as well as Doc.
//
// OpLogDoc keeps a flat field→value map with last-writer-wins semantics,
// ordered by a Lamport clock and tie-broken by instanceId. This is
// deliberately the simplest structure that satisfies convergence (Testable
// Property 3): any two replicas that have seen the same set of Ops, applied
// in any order, reach identical state.
package crdt

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// Op is one field assignment: "set field to value, happened at (clock,
// instanceId)". Ops are the opaque "update" bytes that flow through
// LogCodec — Encode/Decode give them a stable wire form.
type Op struct {
	Field      string          `json:"field"`
	Value      json.RawMessage `json:"value"`
	Clock      uint64          `json:"clock"`
	InstanceID string          `json:"instanceId"`
}

// wins reports whether op should replace cur under last-writer-wins with
// (clock, instanceId) as the tiebreak — higher clock wins; on a clock tie,
// the lexicographically greater instanceId wins. This total order is what
// makes OpLogDoc's merge commutative and idempotent regardless of apply
// order.
func (op Op) wins(cur Op) bool {
	if op.Clock != cur.Clock {
		return op.Clock > cur.Clock
	}
	return op.InstanceID > cur.InstanceID
}

// Doc is the opaque CRDT document contract every component above this
// package programs against.
type Doc interface {
	// ApplyUpdate merges one previously-encoded Op into the document.
	// Applying the same update more than once, or applying a set of
	// updates in any order, converges to the same state.
	ApplyUpdate(update []byte) error
	// EncodeState returns a snapshot of the full current state, suitable
	// for LoadState to reconstruct an equivalent document.
	EncodeState() ([]byte, error)
	// LoadState replaces the document's state with a previously encoded
	// snapshot.
	LoadState(state []byte) error
	// Subscribe registers fn to be called after every LoadState and after
	// every ApplyUpdate that changes the document (a stale or duplicate
	// update does not call fn). It returns an unsubscribe function.
	Subscribe(fn func()) (unsubscribe func())
	// Get returns the current value of field and whether it is set.
	Get(field string) (json.RawMessage, bool)
}

// OpLogDoc is the reference Doc implementation.
type OpLogDoc struct {
	mu     sync.RWMutex
	fields map[string]Op
	subs   map[int]func()
	nextID int
}

// NewOpLogDoc returns an empty document.
func NewOpLogDoc() *OpLogDoc {
	return &OpLogDoc{fields: make(map[string]Op), subs: make(map[int]func())}
}

// MakeUpdate encodes an Op as the opaque update bytes ApplyUpdate expects.
// Callers (NoteDoc) own clock and instanceId assignment.
func MakeUpdate(field string, value any, clock uint64, instanceID string) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Op{Field: field, Value: raw, Clock: clock, InstanceID: instanceID})
}

func (d *OpLogDoc) ApplyUpdate(update []byte) error {
	var op Op
	if err := json.Unmarshal(update, &op); err != nil {
		return err
	}

	d.mu.Lock()
	cur, exists := d.fields[op.Field]
	changed := !exists || op.wins(cur)
	if changed {
		d.fields[op.Field] = op
	}
	subs := d.subsSnapshot()
	d.mu.Unlock()

	if changed {
		for _, fn := range subs {
			fn()
		}
	}
	return nil
}

// state is the wire form of EncodeState/LoadState: the full field map,
// serialized with sorted keys for determinism.
type state struct {
	Fields []Op `json:"fields"`
}

func (d *OpLogDoc) EncodeState() ([]byte, error) {
	d.mu.RLock()
	ops := make([]Op, 0, len(d.fields))
	for _, op := range d.fields {
		ops = append(ops, op)
	}
	d.mu.RUnlock()

	sort.Slice(ops, func(i, j int) bool { return ops[i].Field < ops[j].Field })
	return json.Marshal(state{Fields: ops})
}

func (d *OpLogDoc) LoadState(data []byte) error {
	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	fields := make(map[string]Op, len(s.Fields))
	for _, op := range s.Fields {
		if cur, ok := fields[op.Field]; !ok || op.wins(cur) {
			fields[op.Field] = op
		}
	}

	d.mu.Lock()
	d.fields = fields
	subs := d.subsSnapshot()
	d.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
	return nil
}

func (d *OpLogDoc) subsSnapshot() []func() {
	out := make([]func(), 0, len(d.subs))
	for _, fn := range d.subs {
		out = append(out, fn)
	}
	return out
}

func (d *OpLogDoc) Subscribe(fn func()) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs, id)
	}
}

func (d *OpLogDoc) Get(field string) (json.RawMessage, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	op, ok := d.fields[field]
	if !ok {
		return nil, false
	}
	return op.Value, true
}

// FieldsWithPrefix returns the current value of every field whose name
// starts with prefix, keyed by field name. It is not part of the opaque
// Doc interface — callers that need to enumerate a namespaced group of
// fields (FolderTreeDoc's "folder:<id>" entries) operate on the concrete
// *OpLogDoc rather than the Doc interface.
func (d *OpLogDoc) FieldsWithPrefix(prefix string) map[string]json.RawMessage {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]json.RawMessage)
	for name, op := range d.fields {
		if strings.HasPrefix(name, prefix) {
			out[name] = op.Value
		}
	}
	return out
}

// Equal reports whether two documents hold identical state — used by tests
// asserting convergence.
func Equal(a, b *OpLogDoc) bool {
	sa, err := a.EncodeState()
	if err != nil {
		return false
	}
	sb, err := b.EncodeState()
	if err != nil {
		return false
	}
	return bytes.Equal(sa, sb)
}
