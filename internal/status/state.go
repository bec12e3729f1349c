package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/convsync/internal/bus"
)

// State represents a real-time channel connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Closed       State = "CLOSED"
)

// validTransitions defines allowed state transitions. CLOSED is terminal: a
// closed channel is replaced, never revived.
var validTransitions = map[State][]State{
	Disconnected: {Connecting, Closed},
	Connecting:   {Connected, Disconnected, Closed},
	Connected:    {Disconnected, Closed},
	Closed:       {},
}

// Machine tracks and enforces channel state transitions for one account.
type Machine struct {
	mu      sync.RWMutex
	current State
	account string
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(account string, b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		account: account,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine is currently in s.
func (m *Machine) Is(s State) bool {
	return m.Current() == s
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	m.bus.Emit(bus.KindChannelState, m.account, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
