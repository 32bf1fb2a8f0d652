package biz

import (
	"encoding/json"
	"sync"
)

// Role is a peer's function within a session: the consumer (browser tab
// awaiting a stream) or the producer (the streaming container).
type Role string

const (
	RoleUnknown  Role = ""
	RoleProducer Role = "producer"
	RoleConsumer Role = "consumer"
)

// Sender abstracts writing a single message to a peer's WebSocket
// connection, so the domain layer never depends on gorilla/websocket
// directly.
type Sender interface {
	Send(data []byte) error
}

// Peer is a connected browser tab or streaming container.
type Peer struct {
	ID       string
	WSConnID string // sticky-session id, carried in the sigsvc_wsconnid cookie
	UserID   *int64 // set for consumers only, from the authenticated session
	Role     Role
	Meta     map[string]any
	Sender   Sender
}

// Send marshals v to JSON and writes it to the peer's connection.
func (p *Peer) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.Sender.Send(data)
}

// SendRaw writes pre-encoded bytes to the peer's connection, used for
// opaque relay ("peer") messages that must not be re-serialized.
func (p *Peer) SendRaw(data []byte) error {
	return p.Sender.Send(data)
}

// Registry tracks connected peers and the producer currently associated
// with each consumer, guarded by a single mutex as this is small, in-memory
// state with no need for finer-grained locking.
type Registry struct {
	mu                   sync.Mutex
	peers                map[string]*Peer
	consumersToProducers map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		peers:                make(map[string]*Peer),
		consumersToProducers: make(map[string]string),
	}
}

func (r *Registry) Add(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.ID] = p
}

// Remove deletes a peer and reports whether it was present.
func (r *Registry) Remove(peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[peerID]; !ok {
		return false
	}
	delete(r.peers, peerID)
	return true
}

func (r *Registry) Get(peerID string) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[peerID]
	return p, ok
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// SetProducerForConsumer records that producerID has announced itself as
// ready to stream to consumerID.
func (r *Registry) SetProducerForConsumer(consumerID, producerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumersToProducers[consumerID] = producerID
}

// ProducerForConsumer looks up the producer currently paired with a
// consumer, returning the producer peer only if it is still connected.
func (r *Registry) ProducerForConsumer(consumerID string) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	producerID, ok := r.consumersToProducers[consumerID]
	if !ok {
		return nil, false
	}
	p, ok := r.peers[producerID]
	return p, ok
}
