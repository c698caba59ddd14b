package billing

import "testing"

func TestConfirmSubmittedThenFinalized(t *testing.T) {
	tr := NewTokenTracker()
	tr.AddTokens(1, 100)
	tr.ConfirmSubmitted(1, 60)
	// pending_tokens still reflects generated - finalized, not generated -
	// submitted: a submitted-but-unconfirmed checkpoint hasn't settled yet.
	if got := tr.PendingTokens(1); got != 100 {
		t.Fatalf("expected 100 pending before finalize, got %d", got)
	}
	tr.ConfirmFinalized(1, 60)
	if got := tr.PendingTokens(1); got != 40 {
		t.Fatalf("expected 40 pending after finalize, got %d", got)
	}
}

func TestConfirmSubmittedClampsToGenerated(t *testing.T) {
	tr := NewTokenTracker()
	tr.AddTokens(2, 10)
	tr.ConfirmSubmitted(2, 1000)
	tr.counters(2).mu.Lock()
	got := tr.counters(2).submitted
	tr.counters(2).mu.Unlock()
	if got != 10 {
		t.Fatalf("expected submitted clamped to generated=10, got %d", got)
	}
}
