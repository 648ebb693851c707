// Package store holds the central content store handle shared across build
// phases, plus its sqlite-backed checkpoint persistence.
//
// The orchestrator treats node contents as opaque: it only sequences who may
// apply mutations and when. Collaborating pipelines read and write nodes
// through the same handle while they hold the active phase.
package store

import (
	"encoding/json"
	"sync"
	"time"

	ferrors "git.home.luguber.info/inful/devloop/internal/foundation/errors"
)

// Mutation is a single content-change event to be applied to the store.
type Mutation struct {
	ID         string
	Payload    []byte
	ReceivedAt time.Time
}

// nodePayload is the minimal shape devloop needs out of a mutation payload.
// Everything else in the payload is collaborator territory.
type nodePayload struct {
	NodeID  string `json:"node_id"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Store is the central content store. A single Store instance is shared for
// the process lifetime; phase sequencing guarantees at most one writer.
type Store struct {
	mu       sync.RWMutex
	nodes    map[string][]byte
	sequence int64
}

// New creates an empty content store.
func New() *Store {
	return &Store{nodes: make(map[string][]byte)}
}

// Apply applies one mutation to the store.
func (s *Store) Apply(m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(m)
}

// ApplyBatch applies mutations in order. Application stops at the first
// failure so a later mutation never lands before an earlier one.
func (s *Store) ApplyBatch(batch []Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range batch {
		if err := s.applyLocked(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyLocked(m Mutation) error {
	var p nodePayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryStore, "malformed mutation payload").
			WithContext("mutation_id", m.ID).Build()
	}
	if p.NodeID == "" {
		return ferrors.StoreError("mutation payload missing node_id").
			WithContext("mutation_id", m.ID).Build()
	}
	if p.Deleted {
		delete(s.nodes, p.NodeID)
	} else {
		s.nodes[p.NodeID] = m.Payload
	}
	s.sequence++
	return nil
}

// Node returns the raw payload last applied for a node.
func (s *Store) Node(nodeID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.nodes[nodeID]
	return payload, ok
}

// NodeCount returns the number of live nodes.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Sequence returns the number of mutations applied over the store's lifetime.
func (s *Store) Sequence() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequence
}
