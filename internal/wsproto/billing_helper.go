package wsproto

import (
	"crypto/sha256"

	"github.com/synnergy/hostnode/internal/billing"
	"github.com/synnergy/hostnode/internal/session"
)

// proofInputsFor derives the checkpoint commitment's content hashes from the
// session's current state: the configured model, the most recent prompt,
// and the most recent completion. CheckpointManager only needs commitments
// to differ run over run, not a specific derivation scheme (spec §4.9.3).
func proofInputsFor(sess *session.Session) billing.ProofInputs {
	history := sess.HistorySnapshot()
	var lastUser, lastAssistant string
	for i := len(history) - 1; i >= 0; i-- {
		if lastAssistant == "" && history[i].Role == session.RoleAssistant {
			lastAssistant = history[i].Content
		}
		if lastUser == "" && history[i].Role == session.RoleUser {
			lastUser = history[i].Content
		}
		if lastUser != "" && lastAssistant != "" {
			break
		}
	}
	return billing.ProofInputs{
		ModelHash:  sha256.Sum256(sess.Cfg.ModelID[:]),
		InputHash:  sha256.Sum256([]byte(lastUser)),
		OutputHash: sha256.Sum256([]byte(lastAssistant)),
	}
}
