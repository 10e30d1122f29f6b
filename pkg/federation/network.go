package federation

import (
	"log/slog"
	"sync"
)

// Network owns a registry of nodes and resolves peer ids for them.
type Network struct {
	logger *slog.Logger

	mu    sync.RWMutex
	nodes map[string]*Node
	order []string
}

// NewNetwork creates an empty network. A nil logger uses slog.Default.
func NewNetwork(logger *slog.Logger) *Network {
	if logger == nil {
		logger = slog.Default()
	}
	return &Network{
		logger: logger.With("component", "federated_network"),
		nodes:  make(map[string]*Node),
	}
}

// AddNode registers n and makes the network its directory. A node with the
// same id replaces the previous one.
func (w *Network) AddNode(n *Node) {
	w.mu.Lock()
	if _, exists := w.nodes[n.id]; !exists {
		w.order = append(w.order, n.id)
	} else {
		w.logger.Warn("replacing node", "node_id", n.id)
	}
	w.nodes[n.id] = n
	w.mu.Unlock()

	n.bindDirectory(w)
	w.logger.Info("node added to network", "node_id", n.id)
}

// ConnectAllNodes registers every node as a peer of every other node.
func (w *Network) ConnectAllNodes() {
	nodes := w.Nodes()
	for _, a := range nodes {
		for _, b := range nodes {
			a.RegisterPeer(b)
		}
	}
	w.logger.Info("all nodes connected", "node_count", len(nodes))
}

// Node returns the node with the given id.
func (w *Network) Node(id string) (*Node, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n, ok := w.nodes[id]
	return n, ok
}

// Lookup implements Directory.
func (w *Network) Lookup(id string) (*Node, bool) { return w.Node(id) }

// Nodes returns all nodes in insertion order.
func (w *Network) Nodes() []*Node {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Node, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.nodes[id])
	}
	return out
}
