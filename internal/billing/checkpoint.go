package billing

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/synnergy/hostnode/internal/chainmodel"
	"github.com/synnergy/hostnode/internal/contractgw"
	"github.com/synnergy/hostnode/internal/cryptoprim"
	"github.com/synnergy/hostnode/internal/errs"
	"github.com/synnergy/hostnode/internal/metrics"
)

// Policy bounds when a checkpoint is due (spec §4.9.2).
type Policy struct {
	ProofInterval     uint64        // pending_tokens threshold
	WallClockInterval time.Duration // max time between checkpoints while pending > 0
}

func DefaultPolicy() Policy {
	return Policy{ProofInterval: 100, WallClockInterval: 60 * time.Second}
}

// ProofInputs carries the content-derived hashes a caller (the WebSocket
// session task) must supply to build a checkpoint's commitment — the
// conversation content itself is none of CheckpointManager's business.
type ProofInputs struct {
	ModelHash  [32]byte
	InputHash  [32]byte
	OutputHash [32]byte
}

// ComputeProofHash derives the commitment CheckpointManager signs over:
// keccak256(job_id || model_hash || input_hash || output_hash). Any change
// to input or output since the last checkpoint changes the commitment,
// binding the claimed token count to the content that earned it.
func ComputeProofHash(jobID uint64, in ProofInputs) chainmodel.ProofHash {
	var jobBuf [8]byte
	for i := 0; i < 8; i++ {
		jobBuf[7-i] = byte(jobID >> (8 * i))
	}
	h := crypto.Keccak256(jobBuf[:], in.ModelHash[:], in.InputHash[:], in.OutputHash[:])
	var out chainmodel.ProofHash
	copy(out[:], h)
	return out
}

type jobState struct {
	mu           sync.Mutex
	modelID      chainmodel.ModelID
	modelIDKnown bool
	lastAttempt  time.Time
	fatal        bool // a non-recoverable revert halted further auto-submission
}

// CheckpointManager owns the submit-a-proof-of-work lifecycle for every
// job_id: it decides when a checkpoint is due, builds and signs it, submits
// it via contractgw, and reconciles TokenTracker's ledger against the
// outcome. Exactly one submission is ever in flight per job_id, enforced by
// a singleflight.Group keyed on job_id — grounded in the teacher's
// core/connection_pool.go pattern of a single mutex-guarded map entry per
// key, generalized from connection reuse to call coalescing.
type CheckpointManager struct {
	tracker *TokenTracker
	gateway *contractgw.Gateway
	signer  *ecdsa.PrivateKey
	host    chainmodel.Address
	policy  Policy

	sf singleflight.Group

	mu    sync.Mutex
	jobs  map[uint64]*jobState
}

func NewCheckpointManager(tracker *TokenTracker, gw *contractgw.Gateway, signer *ecdsa.PrivateKey, host chainmodel.Address, policy Policy) *CheckpointManager {
	return &CheckpointManager{
		tracker: tracker,
		gateway: gw,
		signer:  signer,
		host:    host,
		policy:  policy,
		jobs:    make(map[uint64]*jobState),
	}
}

func (cm *CheckpointManager) stateFor(jobID uint64) *jobState {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	js, ok := cm.jobs[jobID]
	if !ok {
		js = &jobState{}
		cm.jobs[jobID] = js
	}
	return js
}

// Due reports whether job_id has a checkpoint due per spec §4.9.2's trigger
// policy: pending_tokens ≥ proof_interval, forceClose (session closing) with
// pending > 0, or the wall-clock interval elapsed with pending > 0.
func (cm *CheckpointManager) Due(jobID uint64, now time.Time, forceClose bool) bool {
	pending := cm.tracker.PendingTokens(jobID)
	if pending == 0 {
		return false
	}
	if forceClose {
		return true
	}
	if pending >= cm.policy.ProofInterval {
		return true
	}
	js := cm.stateFor(jobID)
	js.mu.Lock()
	last := js.lastAttempt
	fatal := js.fatal
	js.mu.Unlock()
	if fatal {
		return false
	}
	if last.IsZero() {
		// No attempt yet: the wall-clock interval starts at the first check
		// that finds tokens pending.
		js.mu.Lock()
		if js.lastAttempt.IsZero() {
			js.lastAttempt = now
		}
		js.mu.Unlock()
		return false
	}
	return now.Sub(last) >= cm.policy.WallClockInterval
}

// Submit builds, signs, and submits a checkpoint for job_id claiming its
// current pending_tokens, coalescing concurrent callers onto a single
// in-flight submission (P6: at most one submission per job outstanding at
// any time).
func (cm *CheckpointManager) Submit(ctx context.Context, chainID uint64, jobID uint64, in ProofInputs, now time.Time) error {
	key := keyFor(jobID)
	_, err, _ := cm.sf.Do(key, func() (interface{}, error) {
		return nil, cm.submitOnce(ctx, chainID, jobID, in, now)
	})
	return err
}

func keyFor(jobID uint64) string {
	var b [20]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(jobID >> (8 * i))
	}
	return string(b[:8])
}

func (cm *CheckpointManager) submitOnce(ctx context.Context, chainID uint64, jobID uint64, in ProofInputs, now time.Time) error {
	js := cm.stateFor(jobID)
	js.mu.Lock()
	if js.fatal {
		js.mu.Unlock()
		return errs.New(errs.KindContractRevert, "checkpoint submission halted after a prior fatal revert")
	}
	js.lastAttempt = now
	modelID := js.modelID
	known := js.modelIDKnown
	js.mu.Unlock()

	pending := cm.tracker.PendingTokens(jobID)
	if pending == 0 {
		return nil
	}

	if !known {
		var err error
		modelID, err = cm.gateway.QuerySessionModel(ctx, chainID, new(big.Int).SetUint64(jobID))
		if err != nil {
			return errs.Wrap(errs.KindContractRevert, err, "query session model")
		}
		js.mu.Lock()
		js.modelID, js.modelIDKnown = modelID, true
		js.mu.Unlock()
	}

	proofHash := ComputeProofHash(jobID, in)
	sig, err := cryptoprim.SignProof(cm.signer, proofHash, cm.host, pending, modelID)
	if err != nil {
		return errs.Wrap(errs.KindInternalError, err, "sign checkpoint proof")
	}

	_, err = cm.gateway.SubmitProofOfWork(ctx, chainID, cm.host, new(big.Int).SetUint64(jobID), new(big.Int).SetUint64(pending), proofHash, sig, modelID, now)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already finalized") {
			// The chain already has this range settled (a crash/retry
			// resubmitted it): trust the chain's claim so we stop
			// resubmitting the same pending delta forever.
			cm.tracker.ConfirmFinalized(jobID, pending)
			metrics.CheckpointsSubmittedTotal.WithLabelValues("already_finalized").Inc()
			log.WithField("job_id", jobID).Warn("billing: checkpoint already finalized on-chain, reconciling locally")
			return nil
		}
		js.mu.Lock()
		js.fatal = true
		js.mu.Unlock()
		metrics.CheckpointsSubmittedTotal.WithLabelValues("fatal").Inc()
		log.WithField("job_id", jobID).WithError(err).Error("billing: checkpoint submission failed, halting further auto-submission")
		return err
	}

	cm.tracker.ConfirmSubmitted(jobID, pending)
	cm.tracker.ConfirmFinalized(jobID, pending)
	metrics.CheckpointsSubmittedTotal.WithLabelValues("ok").Inc()
	return nil
}

// Settle performs the session-close checkpoint and, once it succeeds (or
// there is nothing pending), forgets the job's ledger.
func (cm *CheckpointManager) Settle(ctx context.Context, chainID uint64, jobID uint64, in ProofInputs, now time.Time) error {
	if cm.tracker.PendingTokens(jobID) > 0 {
		if err := cm.Submit(ctx, chainID, jobID, in, now); err != nil {
			return err
		}
	}
	cm.tracker.Forget(jobID)
	cm.mu.Lock()
	delete(cm.jobs, jobID)
	cm.mu.Unlock()
	return nil
}
