package statemachine

import (
	"github.com/advogo/billingcore/pkg/errorx"
)

// Machine validates state transitions for a named entity. The transition
// table is built once at initialization and treated as immutable afterwards,
// so a single Machine is safe for concurrent use without locking.
//
// Machine holds no current state: the authoritative state lives in storage,
// and callers validate a (from, to) pair read from the record they are about
// to update. This keeps the machine usable from concurrent tasks that each
// operate on their own records.
type Machine[S ~string] struct {
	entity      string
	transitions map[S]map[S]struct{}
	terminal    map[S]struct{}
}

// New creates a Machine for the given entity name. The name appears in
// InvalidTransitionError messages.
func New[S ~string](entity string) *Machine[S] {
	return &Machine[S]{
		entity:      entity,
		transitions: make(map[S]map[S]struct{}),
		terminal:    make(map[S]struct{}),
	}
}

// Allow registers legal transitions from one state to one or more targets.
// Returns the machine for chaining during table construction.
func (m *Machine[S]) Allow(from S, to ...S) *Machine[S] {
	targets, ok := m.transitions[from]
	if !ok {
		targets = make(map[S]struct{}, len(to))
		m.transitions[from] = targets
	}
	for _, t := range to {
		targets[t] = struct{}{}
	}
	return m
}

// Terminal marks states as absorbing. Terminal states have no outgoing
// transitions; a transition out of one always fails validation.
func (m *Machine[S]) Terminal(states ...S) *Machine[S] {
	for _, s := range states {
		m.terminal[s] = struct{}{}
	}
	return m
}

// Can reports whether the transition from -> to is legal. Self-transitions
// are always rejected; callers treat them as idempotent no-ops before
// reaching the machine.
func (m *Machine[S]) Can(from, to S) bool {
	if _, ok := m.terminal[from]; ok {
		return false
	}
	targets, ok := m.transitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// Transition validates from -> to and returns an InvalidTransitionError when
// the change is illegal.
func (m *Machine[S]) Transition(from, to S) error {
	if !m.Can(from, to) {
		return errorx.NewInvalidTransition(m.entity, string(from), string(to))
	}
	return nil
}

// IsTerminal reports whether a state is absorbing.
func (m *Machine[S]) IsTerminal(s S) bool {
	_, ok := m.terminal[s]
	return ok
}
