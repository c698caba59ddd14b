package chainreg

import "testing"

func TestLookupUnknownChain(t *testing.T) {
	r, err := New([]Chain{{ChainID: 84532, Name: "base-sepolia"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Lookup(1); err == nil {
		t.Fatal("expected error for unknown chain id")
	}
	c, err := r.Lookup(84532)
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "base-sepolia" {
		t.Fatalf("got %q", c.Name)
	}
}

func TestNewRejectsDuplicateChainID(t *testing.T) {
	_, err := New([]Chain{{ChainID: 1}, {ChainID: 1}})
	if err == nil {
		t.Fatal("expected duplicate chain_id error")
	}
}
