// Package vectorindex implements VectorLoader + Index (spec §4.6): the
// "attach a RAG database to a session" use case, from manifest fetch
// through HNSW index construction. Bounded-parallel chunk download follows
// the same fan-out-with-a-cap shape as the teacher's core/network.go
// peer-discovery bootstrap, generalized here via golang.org/x/sync/errgroup
// instead of a raw WaitGroup.
package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/synnergy/hostnode/internal/cryptoprim"
	"github.com/synnergy/hostnode/internal/errs"
	"github.com/synnergy/hostnode/internal/metrics"
)

// Fetcher is the subset of vectorstore.Client VectorLoader depends on.
type Fetcher interface {
	Get(ctx context.Context, path string) ([]byte, error)
}

// Config bounds the loader's resource usage (spec §4.6).
type Config struct {
	MaxLoadedMB       int
	RateLimitPerUser  int           // loads per RateLimitWindow
	RateLimitWindow   time.Duration
	Concurrency       int
	Timeout           time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxLoadedMB:      512,
		RateLimitPerUser: 10,
		RateLimitWindow:  60 * time.Second,
		Concurrency:      5,
		Timeout:          300 * time.Second,
	}
}

// Loader orchestrates manifest-to-index construction and caches built
// indexes by manifest path for reuse across sessions.
type Loader struct {
	cfg     Config
	fetcher Fetcher

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	cacheMu sync.Mutex
	cache   map[string]*Index
}

func NewLoader(fetcher Fetcher, cfg Config) *Loader {
	return &Loader{
		cfg:      cfg,
		fetcher:  fetcher,
		limiters: make(map[string]*rate.Limiter),
		cache:    make(map[string]*Index),
	}
}

func (l *Loader) limiterFor(userAddress string) *rate.Limiter {
	l.limitersMu.Lock()
	defer l.limitersMu.Unlock()
	rl, ok := l.limiters[userAddress]
	if !ok {
		perSecond := rate.Limit(float64(l.cfg.RateLimitPerUser) / l.cfg.RateLimitWindow.Seconds())
		rl = rate.NewLimiter(perSecond, l.cfg.RateLimitPerUser)
		l.limiters[userAddress] = rl
	}
	return rl
}

// Load executes the full algorithm spec §4.6 describes. userAddress is the
// session's bound owner (lower-case hex, no 0x prefix required — both
// forms compare equal). progress receives every lifecycle event; it may be
// nil.
func (l *Loader) Load(ctx context.Context, manifestPath, userAddress string, key cryptoprim.AEADKey, progress chan<- Progress) (_ *Index, err error) {
	l.cacheMu.Lock()
	if cached, ok := l.cache[manifestPath]; ok {
		l.cacheMu.Unlock()
		metrics.VectorLoadsTotal.WithLabelValues("ok").Inc()
		return cached, nil
	}
	l.cacheMu.Unlock()

	defer func() {
		if err != nil {
			metrics.VectorLoadsTotal.WithLabelValues("error").Inc()
		} else {
			metrics.VectorLoadsTotal.WithLabelValues("ok").Inc()
		}
	}()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	manifest, err := l.fetchManifest(ctx, manifestPath, key)
	if err != nil {
		return nil, err
	}
	emit(progress, Progress{Kind: ManifestDownloaded})

	if !strings.EqualFold(strings.TrimPrefix(manifest.Owner, "0x"), strings.TrimPrefix(userAddress, "0x")) {
		return nil, errs.New(errs.KindOwnerMismatch, "manifest owner does not match session user_address")
	}

	if !l.limiterFor(userAddress).Allow() {
		return nil, errs.New(errs.KindRateLimitExceeded, "vector load rate limit exceeded")
	}

	estimatedBytes := int64(manifest.VectorCount)*int64(vectorDim)*4 + int64(len(manifest.Chunks))*4096
	maxBytes := int64(l.cfg.MaxLoadedMB) * 1024 * 1024
	if estimatedBytes > maxBytes {
		return nil, errs.New(errs.KindMemoryLimitExceeded, fmt.Sprintf("estimated %d bytes exceeds %d byte budget", estimatedBytes, maxBytes))
	}

	if manifest.VectorCount == 0 || len(manifest.Chunks) == 0 {
		return nil, errs.New(errs.KindEmptyDatabase, manifestPath)
	}

	entries, err := l.downloadChunks(ctx, manifest, key, progress)
	if err != nil {
		return nil, err
	}

	if len(entries) != manifest.VectorCount {
		return nil, errs.New(errs.KindDimensionMismatch, fmt.Sprintf("chunk vector total %d != manifest vector_count %d", len(entries), manifest.VectorCount))
	}
	for _, e := range entries {
		if len(e.Vector) != vectorDim {
			return nil, errs.New(errs.KindDimensionMismatch, fmt.Sprintf("vector key %d has dimension %d, want %d", e.Key, len(e.Vector), vectorDim))
		}
	}

	idx, err := buildIndex(manifestPath, entries, vectorDim)
	if err != nil {
		return nil, errs.Wrap(errs.KindIndexBuildFailed, err, "build hnsw index")
	}
	emit(progress, Progress{Kind: IndexBuilt})

	l.cacheMu.Lock()
	l.cache[manifestPath] = idx
	l.cacheMu.Unlock()

	emit(progress, Progress{Kind: Complete, VectorCount: len(entries), DurationMs: time.Since(start).Milliseconds()})
	return idx, nil
}

func (l *Loader) fetchManifest(ctx context.Context, path string, key cryptoprim.AEADKey) (Manifest, error) {
	var m Manifest
	raw, err := l.fetcher.Get(ctx, path)
	if err != nil {
		return m, err
	}
	plain, err := decryptPayload(key, raw)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(plain, &m); err != nil {
		return m, errs.Wrap(errs.KindManifestDownloadFailed, err, "parse manifest json")
	}
	return m, nil
}

// downloadChunks fetches every chunk with bounded concurrency (spec §4.6
// step 5). A single chunk failure aborts the whole load, per spec.
func (l *Loader) downloadChunks(ctx context.Context, manifest Manifest, key cryptoprim.AEADKey, progress chan<- Progress) ([]VectorEntry, error) {
	results := make([][]VectorEntry, len(manifest.Chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)

	for i, ref := range manifest.Chunks {
		i, ref := i, ref
		g.Go(func() error {
			raw, err := l.fetcher.Get(gctx, ref.Path)
			if err != nil {
				return errs.Wrap(errs.KindChunkDownloadFailed, err, "download chunk "+ref.ID)
			}
			plain, err := decryptPayload(key, raw)
			if err != nil {
				return err
			}
			var chunk Chunk
			if err := json.Unmarshal(plain, &chunk); err != nil {
				return errs.Wrap(errs.KindChunkDownloadFailed, err, "parse chunk "+ref.ID)
			}
			results[i] = chunk.Vectors
			emit(progress, Progress{Kind: ChunkDownloaded, ChunkID: ref.ID, ChunkIndex: i + 1, ChunkTotal: len(manifest.Chunks)})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var entries []VectorEntry
	for _, r := range results {
		entries = append(entries, r...)
	}
	return entries, nil
}

// decryptPayload expects wire format nonce || ciphertext, nonce sized per
// cryptoprim.NonceSize (spec §3.2's session-key AEAD convention applied to
// stored bridge payloads).
func decryptPayload(key cryptoprim.AEADKey, payload []byte) ([]byte, error) {
	if len(payload) < cryptoprim.NonceSize {
		return nil, errs.New(errs.KindDecryptionFailed, "payload shorter than nonce")
	}
	nonce := payload[:cryptoprim.NonceSize]
	ciphertext := payload[cryptoprim.NonceSize:]
	plain, err := cryptoprim.Open(key, nonce, nil, ciphertext)
	if err != nil {
		return nil, errs.Wrap(errs.KindDecryptionFailed, err, "decrypt stored payload")
	}
	return plain, nil
}

func emit(ch chan<- Progress, p Progress) {
	if ch == nil {
		return
	}
	select {
	case ch <- p:
	default:
	}
}

// Evict drops a cached index, used when a session detaches its database.
func (l *Loader) Evict(manifestPath string) {
	l.cacheMu.Lock()
	delete(l.cache, manifestPath)
	l.cacheMu.Unlock()
}
