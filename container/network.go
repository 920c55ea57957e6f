package container

import "sync"

// DefaultHistorySize bounds the network's message history unless overridden.
const DefaultHistorySize = 1000

// Network routes messages between registered containers and records every
// accepted message in a bounded history. Delivery is blocking: a send waits
// until the recipient's inbox has room, so producers feel backpressure rather
// than dropping traffic.
type Network struct {
	mu      sync.RWMutex
	inboxes map[string]chan<- Message

	histMu     sync.Mutex
	history    []Message
	maxHistory int
}

// NewNetwork creates a network whose history holds at most maxHistory
// messages; zero or negative falls back to DefaultHistorySize.
func NewNetwork(maxHistory int) *Network {
	if maxHistory <= 0 {
		maxHistory = DefaultHistorySize
	}
	return &Network{
		inboxes:    make(map[string]chan<- Message),
		maxHistory: maxHistory,
	}
}

// Register attaches a container's inbox under its id. Registering an id twice
// replaces the previous inbox.
func (n *Network) Register(id string, inbox chan<- Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inboxes[id] = inbox
}

// Unregister detaches a container; later sends to it become no-ops.
func (n *Network) Unregister(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.inboxes, id)
}

// Registered returns the ids currently attached to the network.
func (n *Network) Registered() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]string, 0, len(n.inboxes))
	for id := range n.inboxes {
		ids = append(ids, id)
	}
	return ids
}

// record appends to the bounded history, evicting the oldest entry when full.
func (n *Network) record(msg Message) {
	n.histMu.Lock()
	defer n.histMu.Unlock()
	if len(n.history) >= n.maxHistory {
		n.history = n.history[1:]
	}
	n.history = append(n.history, msg)
}

// Send delivers a directed message to its recipient's inbox and records it.
// A message to an unregistered id is silently discarded and leaves no trace
// in the history.
func (n *Network) Send(msg Message) {
	n.mu.RLock()
	inbox, ok := n.inboxes[msg.To]
	n.mu.RUnlock()
	if !ok {
		return
	}
	inbox <- msg
	n.record(msg)
}

// Broadcast delivers a message to every registered container except the
// sender. The message is recorded exactly once, even with zero recipients.
func (n *Network) Broadcast(msg Message) {
	n.mu.RLock()
	recipients := make([]chan<- Message, 0, len(n.inboxes))
	for id, inbox := range n.inboxes {
		if id == msg.From {
			continue
		}
		recipients = append(recipients, inbox)
	}
	n.mu.RUnlock()

	for _, inbox := range recipients {
		inbox <- msg
	}
	n.record(msg)
}

// History returns a copy of the recorded messages in send order.
func (n *Network) History() []Message {
	n.histMu.Lock()
	defer n.histMu.Unlock()
	out := make([]Message, len(n.history))
	copy(out, n.history)
	return out
}

// CountByKind tallies the recorded messages per kind.
func (n *Network) CountByKind() map[Kind]int {
	n.histMu.Lock()
	defer n.histMu.Unlock()
	counts := make(map[Kind]int)
	for _, msg := range n.history {
		counts[msg.Kind]++
	}
	return counts
}

// ContainerMessages returns the recorded messages a container sent or was
// directly addressed by.
func (n *Network) ContainerMessages(id string) []Message {
	n.histMu.Lock()
	defer n.histMu.Unlock()
	var out []Message
	for _, msg := range n.history {
		if msg.From == id || msg.To == id {
			out = append(out, msg)
		}
	}
	return out
}

// MessagesByKind returns the recorded messages of one kind.
func (n *Network) MessagesByKind(kind Kind) []Message {
	n.histMu.Lock()
	defer n.histMu.Unlock()
	var out []Message
	for _, msg := range n.history {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

// HistoryLen returns the number of recorded messages.
func (n *Network) HistoryLen() int {
	n.histMu.Lock()
	defer n.histMu.Unlock()
	return len(n.history)
}

// ClearHistory drops all recorded messages; registrations are untouched.
func (n *Network) ClearHistory() {
	n.histMu.Lock()
	defer n.histMu.Unlock()
	n.history = nil
}
