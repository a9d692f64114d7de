// Package checkpoint persists ConversationState between turns and
// serializes turns per conversation. Two implementations: Redis for
// production, in-memory for development and tests.
package checkpoint

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/farmaplex/wsp-bot-go/internal/domain"
)

// Memory is an in-process Checkpointer. States are deep-copied through JSON
// on Load/Save so callers never share a pointer with the store — the same
// isolation the Redis implementation gets for free.
type Memory struct {
	mu     sync.Mutex
	states map[string][]byte
	locks  map[string]*sync.Mutex
}

// NewMemory creates an empty in-memory checkpoint store.
func NewMemory() *Memory {
	return &Memory{
		states: make(map[string][]byte),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Lock acquires the per-conversation mutex. Two messages from the same
// sender are thereby serialized: the second read observes the first write.
func (m *Memory) Lock(ctx context.Context, conversationID string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[conversationID] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock, nil
}

// Load returns the stored state, or nil for a new conversation.
func (m *Memory) Load(ctx context.Context, conversationID string) (*domain.ConversationState, error) {
	m.mu.Lock()
	raw, ok := m.states[conversationID]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}

	var st domain.ConversationState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Save writes the state, rejecting stale writers via the version field.
func (m *Memory) Save(ctx context.Context, state *domain.ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if raw, ok := m.states[state.ConversationID]; ok {
		var current domain.ConversationState
		if err := json.Unmarshal(raw, &current); err == nil && current.Version != state.Version {
			return &domain.ErrConflict{ConversationID: state.ConversationID}
		}
	}

	state.Version++
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.states[state.ConversationID] = raw
	return nil
}

// Delete discards a conversation's state.
func (m *Memory) Delete(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, conversationID)
	return nil
}
