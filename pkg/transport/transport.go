// Package transport defines the pluggable message-passing layer that
// carries framed Envelope request/response pairs between Raft members
// (§1: out of scope beyond this interface), plus a concrete in-process
// ChannelTransport used by tests and single-process deployments.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/copycat/copycat/pkg/types"
)

// ErrClosed is returned by Serve after Close. Send does not return it: a
// Send to a closed peer fails with ErrUnreachable.
var ErrClosed = errors.New("transport: closed")

// ErrUnreachable is returned by Send when no peer is registered at addr.
var ErrUnreachable = errors.New("transport: unreachable address")

// Handler processes one inbound Envelope and returns the response
// Envelope to send back.
type Handler func(types.Envelope) types.Envelope

// Transport is the wire layer a Raft context depends on. Send is a
// synchronous request/response round trip; Serve registers the handler
// invoked for every inbound request until ctx is done or Close is called.
type Transport interface {
	Send(ctx context.Context, addr string, env types.Envelope) (types.Envelope, error)
	Serve(ctx context.Context, handler Handler) error
	LocalAddr() string
	Close() error
}

// Registry is the shared address book ChannelTransport instances
// register themselves into, so one process can host an arbitrary number
// of Raft contexts exchanging real Envelope traffic without sockets.
type Registry struct {
	mu         sync.RWMutex
	peers      map[string]*ChannelTransport
	partitions map[string]map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		peers:      make(map[string]*ChannelTransport),
		partitions: make(map[string]map[string]bool),
	}
}

// Partition cuts addr off from every other registered address in both
// directions, simulating a network split for fault-injection tests.
// Existing in-flight Sends are unaffected; only subsequent ones are cut.
func (r *Registry) Partition(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.partitions[addr] == nil {
		r.partitions[addr] = make(map[string]bool)
	}
	for other := range r.peers {
		if other == addr {
			continue
		}
		r.partitions[addr][other] = true
		if r.partitions[other] == nil {
			r.partitions[other] = make(map[string]bool)
		}
		r.partitions[other][addr] = true
	}
}

// Heal reverses a prior Partition(addr), restoring full connectivity.
func (r *Registry) Heal(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for other := range r.peers {
		if r.partitions[other] != nil {
			delete(r.partitions[other], addr)
		}
	}
	delete(r.partitions, addr)
}

func (r *Registry) isPartitioned(a, b string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.partitions[a][b]
}

func (r *Registry) register(addr string, t *ChannelTransport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.peers[addr]; exists {
		return fmt.Errorf("transport: address %q already registered", addr)
	}
	r.peers[addr] = t
	return nil
}

func (r *Registry) unregister(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, addr)
}

func (r *Registry) lookup(addr string) (*ChannelTransport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.peers[addr]
	return t, ok
}

// ChannelTransport implements Transport over in-memory Go channels keyed
// by address in a shared Registry.
type ChannelTransport struct {
	registry *Registry
	addr     string

	mu      sync.Mutex
	handler Handler
	closed  bool
}

// NewChannelTransport registers a new transport at addr within registry.
func NewChannelTransport(registry *Registry, addr string) (*ChannelTransport, error) {
	t := &ChannelTransport{registry: registry, addr: addr}
	if err := registry.register(addr, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *ChannelTransport) LocalAddr() string { return t.addr }

// Serve installs handler as the receiver for inbound Send calls. It
// blocks until ctx is cancelled; Close stops delivery to the handler but
// does not make Serve return.
func (t *ChannelTransport) Serve(ctx context.Context, handler Handler) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.handler = handler
	t.mu.Unlock()

	<-ctx.Done()
	return ctx.Err()
}

// Send delivers env to the peer registered at addr and returns its
// response. The peer's handler runs on a new goroutine (no network), and
// Send blocks until it returns or ctx is done. Concurrent Send calls from a single caller are not
// ordered relative to each other; callers that need strict per-peer
// ordering (the replication driver) serialize their own sends.
func (t *ChannelTransport) Send(ctx context.Context, addr string, env types.Envelope) (types.Envelope, error) {
	if t.registry.isPartitioned(t.addr, addr) {
		return types.Envelope{}, ErrUnreachable
	}
	peer, ok := t.registry.lookup(addr)
	if !ok {
		return types.Envelope{}, ErrUnreachable
	}
	peer.mu.Lock()
	if peer.closed || peer.handler == nil {
		peer.mu.Unlock()
		return types.Envelope{}, ErrUnreachable
	}
	handler := peer.handler
	peer.mu.Unlock()

	type result struct {
		env types.Envelope
	}
	resultCh := make(chan result, 1)
	go func() { resultCh <- result{handler(env)} }()

	select {
	case <-ctx.Done():
		return types.Envelope{}, ctx.Err()
	case r := <-resultCh:
		return r.env, nil
	}
}

// Close unregisters the transport; subsequent Send calls targeting it
// fail with ErrUnreachable.
func (t *ChannelTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.registry.unregister(t.addr)
	return nil
}
