// Package queue implements the per-cluster command FIFO and the per-command
// result rendezvous. The store's atomic list pop serializes delivery across
// executor connections; the rendezvous is a lock-guarded map of one-shot
// channels paired with a store publish so a waiter on another control-plane
// instance is completed too.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kubently/kubently/internal/models"
	"github.com/kubently/kubently/internal/pkg/metrics"
	"github.com/kubently/kubently/internal/store"
)

var (
	// ErrQueueFull is returned when a cluster's pending queue is at capacity.
	ErrQueueFull = errors.New("pending queue full")
	// ErrTimeout is returned by AwaitResult when the deadline passes. Callers
	// usually convert it to a TIMEOUT result rather than an error.
	ErrTimeout = errors.New("timed out waiting for result")
)

const (
	pendingPrefix = "pending:" // list, LPUSH tail / BRPOP head
	cmdChanPrefix = "cmd:"     // pub/sub: command enqueued for cluster
	resChanPrefix = "res:"     // pub/sub: result for command id
	donePrefix    = "done:"    // tombstone: result delivered or command expired
	metaPrefix    = "cmdmeta:" // cluster id for sink-side validation

	// doneTTL keeps tombstones long enough for any straggling executor to be
	// deduplicated, short enough to not accumulate.
	doneTTL = 5 * time.Minute
	metaTTL = 10 * time.Minute
)

func pendingKey(clusterID string) string { return pendingPrefix + clusterID }

// CommandChannel is the pub/sub channel notified when a command is enqueued
// for a cluster.
func CommandChannel(clusterID string) string { return cmdChanPrefix + clusterID }

func resultChannel(commandID string) string { return resChanPrefix + commandID }

// DoneChannel carries command ids whose results arrived; the executor stream
// endpoint subscribes to it to release in-flight window slots.
func DoneChannel(clusterID string) string { return "resdone:" + clusterID }

type waiter struct {
	ch   chan *models.Result
	once sync.Once
}

func (w *waiter) complete(r *models.Result) {
	w.once.Do(func() {
		w.ch <- r
		close(w.ch)
	})
}

// Queue is safe for concurrent use.
type Queue struct {
	store    *store.Store
	log      *slog.Logger
	maxDepth int64

	mu      sync.Mutex
	waiters map[string]*waiter
}

func New(s *store.Store, log *slog.Logger, maxDepth int) *Queue {
	if maxDepth <= 0 {
		maxDepth = 1024
	}
	return &Queue{
		store:    s,
		log:      log,
		maxDepth: int64(maxDepth),
		waiters:  make(map[string]*waiter),
	}
}

// NewCommand builds a Command with a fresh id and enqueue timestamp.
func NewCommand(clusterID, sessionID string, t models.CommandType, args []string, timeout time.Duration) *models.Command {
	return &models.Command{
		CommandID:   uuid.New().String(),
		ClusterID:   clusterID,
		SessionID:   sessionID,
		CommandType: t,
		Args:        args,
		TimeoutMs:   timeout.Milliseconds(),
		EnqueuedAt:  time.Now().UTC(),
	}
}

// Enqueue places the command on its cluster's FIFO, records its cluster for
// sink validation, registers the rendezvous slot, and notifies stream
// endpoints. Fails fast on store errors with no partial state.
func (q *Queue) Enqueue(ctx context.Context, cmd *models.Command) error {
	depth, err := q.store.LLen(ctx, pendingKey(cmd.ClusterID))
	if err != nil {
		return err
	}
	if depth >= q.maxDepth {
		return ErrQueueFull
	}
	b, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	if err := q.store.SetTTL(ctx, metaPrefix+cmd.CommandID, []byte(cmd.ClusterID), metaTTL); err != nil {
		return err
	}
	q.register(cmd.CommandID)
	if err := q.store.LPush(ctx, pendingKey(cmd.ClusterID), b); err != nil {
		q.unregister(cmd.CommandID)
		_ = q.store.Del(ctx, metaPrefix+cmd.CommandID)
		return err
	}
	_ = q.store.Publish(ctx, CommandChannel(cmd.ClusterID), []byte(cmd.CommandID))
	metrics.CommandsEnqueuedTotal.WithLabelValues(cmd.ClusterID).Inc()
	return nil
}

// AwaitResult blocks until the command's result is delivered, the timeout
// elapses (TIMEOUT result, command tombstoned), or ctx is cancelled
// (CANCELLED result). The rendezvous is consumed exactly once.
func (q *Queue) AwaitResult(ctx context.Context, commandID string, timeout time.Duration) (*models.Result, error) {
	q.mu.Lock()
	w, ok := q.waiters[commandID]
	q.mu.Unlock()
	if !ok {
		// Waiter may live on another instance; fall back to pub/sub only.
		w = &waiter{ch: make(chan *models.Result, 1)}
	}

	// Cross-instance path: a result delivered to another control-plane
	// instance is published on res:{id}.
	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()
	msgs, closeSub := q.store.Subscribe(subCtx, resultChannel(commandID))
	defer closeSub()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	defer q.unregister(commandID)

	local := w.ch
	for {
		select {
		case r := <-local:
			if r != nil {
				return r, nil
			}
			// Channel closed after its value was taken; wait on pub/sub only.
			local = nil
		case payload, open := <-msgs:
			if !open {
				msgs = nil
				continue
			}
			var r models.Result
			if err := json.Unmarshal([]byte(payload), &r); err != nil {
				q.log.Warn("discarding malformed published result", "command_id", commandID, "error", err)
				continue
			}
			return &r, nil
		case <-timer.C:
			q.tombstone(context.WithoutCancel(ctx), commandID)
			metrics.CommandResultsTotal.WithLabelValues(string(models.StatusTimeout)).Inc()
			return models.TimeoutResult(commandID), nil
		case <-ctx.Done():
			q.tombstone(context.WithoutCancel(ctx), commandID)
			metrics.CommandResultsTotal.WithLabelValues(string(models.StatusCancelled)).Inc()
			return models.CancelledResult(commandID), ctx.Err()
		}
	}
}

// Deliver completes the rendezvous for a result. Idempotent: the first
// delivery wins a SETNX tombstone; duplicates and results for timed-out
// commands are discarded after logging.
func (q *Queue) Deliver(ctx context.Context, r *models.Result) error {
	first, err := q.store.SetNX(ctx, donePrefix+r.CommandID, []byte(string(r.Status)), doneTTL)
	if err != nil {
		return err
	}
	if !first {
		q.log.Debug("duplicate or late result discarded", "command_id", r.CommandID)
		return nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	q.mu.Lock()
	w, ok := q.waiters[r.CommandID]
	q.mu.Unlock()
	if ok {
		w.complete(r)
	}
	// Wake waiters on other instances and release the stream's in-flight slot.
	_ = q.store.Publish(ctx, resultChannel(r.CommandID), b)
	if r.ClusterID != "" {
		_ = q.store.Publish(ctx, DoneChannel(r.ClusterID), []byte(r.CommandID))
	}
	metrics.CommandResultsTotal.WithLabelValues(string(r.Status)).Inc()
	return nil
}

// PopNext returns the next pending command for a cluster, or nil after wait.
// The store's atomic BRPOP guarantees at-most-one consumer per command even
// with multiple executor connections. Tombstoned (timed-out) commands are
// skipped.
func (q *Queue) PopNext(ctx context.Context, clusterID string, wait time.Duration) (*models.Command, error) {
	deadline := time.Now().Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining < time.Millisecond {
			remaining = time.Millisecond
		}
		b, err := q.store.BRPop(ctx, pendingKey(clusterID), remaining)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		var cmd models.Command
		if err := json.Unmarshal(b, &cmd); err != nil {
			q.log.Warn("dropping malformed pending command", "cluster_id", clusterID, "error", err)
			continue
		}
		if q.isDone(ctx, cmd.CommandID) {
			continue // timed out before delivery; do not hand to executor
		}
		return &cmd, nil
	}
}

// Requeue returns a popped-but-undelivered command to the head of its queue
// (visibility-timeout pattern: the stream endpoint calls this on write
// failure or disconnect).
func (q *Queue) Requeue(ctx context.Context, cmd *models.Command) error {
	if q.isDone(ctx, cmd.CommandID) {
		return nil
	}
	b, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return q.store.RPush(ctx, pendingKey(cmd.ClusterID), b)
}

// ClusterForCommand returns the cluster a command was enqueued for, used by
// the result sink to reject cross-cluster posts.
func (q *Queue) ClusterForCommand(ctx context.Context, commandID string) (string, error) {
	b, err := q.store.Get(ctx, metaPrefix+commandID)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Depth returns the pending count for a cluster.
func (q *Queue) Depth(ctx context.Context, clusterID string) (int64, error) {
	return q.store.LLen(ctx, pendingKey(clusterID))
}

func (q *Queue) register(commandID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.waiters[commandID] = &waiter{ch: make(chan *models.Result, 1)}
}

func (q *Queue) unregister(commandID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.waiters, commandID)
}

func (q *Queue) tombstone(ctx context.Context, commandID string) {
	if _, err := q.store.SetNX(ctx, donePrefix+commandID, []byte(string(models.StatusTimeout)), doneTTL); err != nil {
		q.log.Warn("failed to tombstone command", "command_id", commandID, "error", err)
	}
}

func (q *Queue) isDone(ctx context.Context, commandID string) bool {
	_, err := q.store.Get(ctx, donePrefix+commandID)
	return err == nil
}
