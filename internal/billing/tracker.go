// Package billing implements per-job token accounting (TokenTracker) and the
// on-chain checkpoint submission policy (CheckpointManager) spec §4.9
// describes. Tokens are counted locally the instant they're emitted;
// clearing the local count requires a corresponding checkpoint to be
// confirmed on-chain, never before — grounded in the same "never trust the
// happy path" posture as the teacher's core/contracts.go InvokeWithReceipt,
// which only considers a call settled once the receipt confirms it.
package billing

import (
	"sync"

	"github.com/synnergy/hostnode/internal/metrics"
)

// jobCounters is one job_id's token ledger. generated only grows; submitted
// and finalized only grow and never exceed generated, and finalized never
// exceeds submitted.
type jobCounters struct {
	mu        sync.Mutex
	generated uint64
	submitted uint64
	finalized uint64
}

// TokenTracker maps job_id to its running token ledger (spec §4.9.1).
type TokenTracker struct {
	mu   sync.RWMutex
	jobs map[uint64]*jobCounters
}

func NewTokenTracker() *TokenTracker {
	return &TokenTracker{jobs: make(map[uint64]*jobCounters)}
}

func (t *TokenTracker) counters(jobID uint64) *jobCounters {
	t.mu.RLock()
	c, ok := t.jobs[jobID]
	t.mu.RUnlock()
	if ok {
		return c
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok = t.jobs[jobID]; ok {
		return c
	}
	c = &jobCounters{}
	t.jobs[jobID] = c
	return c
}

// AddTokens records n newly generated tokens (completion or VLM usage) for
// job_id. Called once per emission event, never retroactively adjusted.
func (t *TokenTracker) AddTokens(jobID uint64, n uint64) {
	if n == 0 {
		return
	}
	c := t.counters(jobID)
	c.mu.Lock()
	c.generated += n
	c.mu.Unlock()
	metrics.TokensPending.Add(float64(n))
}

// PendingTokens returns tokens generated but not yet confirmed finalized
// on-chain — the amount a checkpoint should claim next.
func (t *TokenTracker) PendingTokens(jobID uint64) uint64 {
	c := t.counters(jobID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generated - c.finalized
}

// ConfirmSubmitted marks n tokens as claimed by a checkpoint that has been
// sent on-chain but not yet confirmed finalized (spec §4.9.1's intermediate
// in-flight state, between pending_tokens and confirm_finalized). n is
// clamped to generated so a retrying submitter can never push submitted past
// what was actually generated.
func (t *TokenTracker) ConfirmSubmitted(jobID uint64, n uint64) {
	c := t.counters(jobID)
	c.mu.Lock()
	c.submitted += n
	if c.submitted > c.generated {
		c.submitted = c.generated
	}
	c.mu.Unlock()
}

// ConfirmFinalized marks n tokens as settled on-chain, clearing them from
// PendingTokens (spec §4.9.1's "cleared only once confirmed" rule). n is
// clamped to generated so a double-confirm can never push finalized past
// generated.
func (t *TokenTracker) ConfirmFinalized(jobID uint64, n uint64) {
	c := t.counters(jobID)
	c.mu.Lock()
	before := c.finalized
	c.finalized += n
	if c.finalized > c.generated {
		c.finalized = c.generated
	}
	if c.submitted < c.finalized {
		c.submitted = c.finalized
	}
	applied := c.finalized - before
	c.mu.Unlock()
	metrics.TokensPending.Sub(float64(applied))
}

// Forget drops a job's ledger, called once its session has fully settled.
func (t *TokenTracker) Forget(jobID uint64) {
	t.mu.Lock()
	delete(t.jobs, jobID)
	t.mu.Unlock()
}
