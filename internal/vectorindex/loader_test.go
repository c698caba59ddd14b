package vectorindex

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/synnergy/hostnode/internal/cryptoprim"
	"github.com/synnergy/hostnode/internal/errs"
)

type fakeFetcher struct {
	blobs map[string][]byte
}

func (f *fakeFetcher) Get(ctx context.Context, path string) ([]byte, error) {
	b, ok := f.blobs[path]
	if !ok {
		return nil, errs.New(errs.KindManifestNotFound, path)
	}
	return b, nil
}

func seal(t *testing.T, key cryptoprim.AEADKey, v interface{}) []byte {
	t.Helper()
	plain, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	nonce := make([]byte, cryptoprim.NonceSize)
	_, _ = rand.Read(nonce)
	ct, err := cryptoprim.Seal(key, nonce, nil, plain)
	if err != nil {
		t.Fatal(err)
	}
	return append(nonce, ct...)
}

func vec(seed float32) []float32 {
	v := make([]float32, vectorDim)
	v[0] = seed
	return v
}

func buildFixture(t *testing.T, key cryptoprim.AEADKey, owner string, nVectors int) *fakeFetcher {
	t.Helper()
	entries := make([]VectorEntry, nVectors)
	for i := range entries {
		entries[i] = VectorEntry{Key: i, Vector: vec(float32(i))}
	}
	manifest := Manifest{Owner: owner, VectorCount: nVectors, Dim: vectorDim, Chunks: []ChunkRef{{ID: "c0", Path: "home/u/chunk0.json"}}}
	chunk := Chunk{Vectors: entries}

	return &fakeFetcher{blobs: map[string][]byte{
		"home/u/manifest.json": seal(t, key, manifest),
		"home/u/chunk0.json":   seal(t, key, chunk),
	}}
}

func TestLoadHappyPath(t *testing.T) {
	var key cryptoprim.AEADKey
	key[0] = 7
	ff := buildFixture(t, key, "0xabc", 3)
	loader := NewLoader(ff, DefaultConfig())

	idx, err := loader.Load(context.Background(), "home/u/manifest.json", "0xABC", key, nil)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 3 {
		t.Fatalf("expected 3 vectors indexed, got %d", idx.Len())
	}
}

func TestLoadOwnerMismatch(t *testing.T) {
	var key cryptoprim.AEADKey
	key[0] = 7
	ff := buildFixture(t, key, "0xabc", 2)
	loader := NewLoader(ff, DefaultConfig())

	_, err := loader.Load(context.Background(), "home/u/manifest.json", "0xdead", key, nil)
	if errs.KindOf(err) != errs.KindOwnerMismatch {
		t.Fatalf("expected OwnerMismatch, got %v", err)
	}
}

func TestLoadEmptyDatabase(t *testing.T) {
	var key cryptoprim.AEADKey
	key[0] = 7
	manifest := Manifest{Owner: "0xabc", VectorCount: 0, Chunks: nil}
	ff := &fakeFetcher{blobs: map[string][]byte{"home/u/manifest.json": seal(t, key, manifest)}}
	loader := NewLoader(ff, DefaultConfig())

	_, err := loader.Load(context.Background(), "home/u/manifest.json", "0xabc", key, nil)
	if errs.KindOf(err) != errs.KindEmptyDatabase {
		t.Fatalf("expected EmptyDatabase, got %v", err)
	}
}

func TestLoadRateLimitExceeded(t *testing.T) {
	var key cryptoprim.AEADKey
	key[0] = 7
	ff := buildFixture(t, key, "0xabc", 1)
	cfg := DefaultConfig()
	cfg.RateLimitPerUser = 1
	cfg.RateLimitWindow = time.Minute
	loader := NewLoader(ff, cfg)

	if _, err := loader.Load(context.Background(), "home/u/manifest.json", "0xabc", key, nil); err != nil {
		t.Fatal(err)
	}
	loader.Evict("home/u/manifest.json")
	_, err := loader.Load(context.Background(), "home/u/manifest.json", "0xabc", key, nil)
	if errs.KindOf(err) != errs.KindRateLimitExceeded {
		t.Fatalf("expected RateLimitExceeded on second load, got %v", err)
	}
}

func TestLoadCachesByManifestPath(t *testing.T) {
	var key cryptoprim.AEADKey
	key[0] = 9
	ff := buildFixture(t, key, "0xabc", 2)
	loader := NewLoader(ff, DefaultConfig())

	idx1, err := loader.Load(context.Background(), "home/u/manifest.json", "0xabc", key, nil)
	if err != nil {
		t.Fatal(err)
	}
	idx2, err := loader.Load(context.Background(), "home/u/manifest.json", "0xabc", key, nil)
	if err != nil {
		t.Fatal(err)
	}
	if idx1 != idx2 {
		t.Fatal("expected cached index to be reused")
	}
}
