package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kubently/kubently/internal/store"
)

const contextKeyPrefix = "a2actx:"

// Turn is one recorded conversational exchange within a context.
type Turn struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// ContextState is the TTL-bounded multi-turn state keyed by context_id.
// It lives in the keyed store, so any control-plane instance can continue
// the conversation.
type ContextState struct {
	ContextID string `json:"context_id"`
	Turns     []Turn `json:"turns"`
	Seq       int64  `json:"seq"` // last emitted event sequence
}

// ContextStore persists conversational contexts.
type ContextStore struct {
	store *store.Store
	ttl   time.Duration
}

func NewContextStore(s *store.Store, ttl time.Duration) *ContextStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &ContextStore{store: s, ttl: ttl}
}

// Load returns the context state, or a fresh one when absent.
func (c *ContextStore) Load(ctx context.Context, contextID string) (*ContextState, error) {
	b, err := c.store.Get(ctx, contextKeyPrefix+contextID)
	if errors.Is(err, store.ErrNotFound) {
		return &ContextState{ContextID: contextID}, nil
	}
	if err != nil {
		return nil, err
	}
	var st ContextState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("unmarshal context state: %w", err)
	}
	return &st, nil
}

// Save writes the state back and refreshes its TTL.
func (c *ContextStore) Save(ctx context.Context, st *ContextState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal context state: %w", err)
	}
	return c.store.SetTTL(ctx, contextKeyPrefix+st.ContextID, b, c.ttl)
}
