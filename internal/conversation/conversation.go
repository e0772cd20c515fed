// Package conversation holds per-session chat state: an ordered,
// bounded sequence of turns shared between retrieval and generation.
// State lives in memory for the session; there is no cross-session
// sharing.
package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single utterance in a conversation. Assistant turns carry the
// chunk IDs their answer was grounded in.
type Turn struct {
	Role      Role
	Text      string
	ChunkIDs  []string // cited chunks, assistant turns only
	Timestamp time.Time
}

// Conversation is an append-only turn sequence bounded by a maximum turn
// count; the oldest turns are evicted first so prompt size stays bounded.
//
// Conversation is safe for concurrent use, but it models a single
// session with a single writer.
type Conversation struct {
	mu       sync.RWMutex
	id       string
	turns    []Turn
	maxTurns int
}

// New creates an empty conversation. maxTurns <= 0 means unbounded.
func New(maxTurns int) *Conversation {
	return &Conversation{
		id:       uuid.NewString(),
		maxTurns: maxTurns,
	}
}

// ID returns the session identifier.
func (c *Conversation) ID() string {
	return c.id
}

// Append adds a turn, evicting the oldest turns beyond the bound.
func (c *Conversation) Append(turn Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	c.turns = append(c.turns, turn)

	if c.maxTurns > 0 && len(c.turns) > c.maxTurns {
		// FIFO eviction; copy so released turns can be collected.
		kept := make([]Turn, c.maxTurns)
		copy(kept, c.turns[len(c.turns)-c.maxTurns:])
		c.turns = kept
	}
}

// History returns up to max of the most recent turns, oldest first.
// max <= 0 returns everything. The result is a copy.
func (c *Conversation) History(max int) []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start := 0
	if max > 0 && len(c.turns) > max {
		start = len(c.turns) - max
	}
	out := make([]Turn, len(c.turns)-start)
	copy(out, c.turns[start:])
	return out
}

// Len returns the current turn count.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// Clear resets the conversation to empty. Safe to call at any time; only
// subsequent turns are affected.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = nil
}
