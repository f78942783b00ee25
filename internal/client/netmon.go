package client

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultPresenceDebounce suppresses network presence flapping.
const DefaultPresenceDebounce = 500 * time.Millisecond

// NetworkMonitor turns raw OS/browser network-presence signals into
// debounced online/offline transitions. Rapid flaps inside the debounce
// window collapse into at most one callback for the final state.
type NetworkMonitor struct {
	clock    clockwork.Clock
	debounce time.Duration
	onChange func(online bool)

	mu      sync.Mutex
	online  bool
	pending clockwork.Timer
}

// NewNetworkMonitor starts in the online state.
func NewNetworkMonitor(clock clockwork.Clock, debounce time.Duration, onChange func(online bool)) *NetworkMonitor {
	if debounce <= 0 {
		debounce = DefaultPresenceDebounce
	}
	return &NetworkMonitor{
		clock:    clock,
		debounce: debounce,
		onChange: onChange,
		online:   true,
	}
}

// Signal feeds a raw presence observation. The callback fires only after
// the value has been stable for the debounce window and actually changed.
func (n *NetworkMonitor) Signal(online bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pending != nil {
		n.pending.Stop()
	}
	n.pending = n.clock.AfterFunc(n.debounce, func() {
		n.settle(online)
	})
}

func (n *NetworkMonitor) settle(online bool) {
	n.mu.Lock()
	changed := n.online != online
	n.online = online
	n.mu.Unlock()

	if changed && n.onChange != nil {
		n.onChange(online)
	}
}

// Online reports the last settled presence state.
func (n *NetworkMonitor) Online() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

// Stop cancels any pending debounce timer.
func (n *NetworkMonitor) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pending != nil {
		n.pending.Stop()
		n.pending = nil
	}
}
