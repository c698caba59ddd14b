// Package vectorstore is a typed HTTP client to the localhost-only P2P
// storage bridge (spec §4.5, §6). It never reimplements the content-address
// network itself — that lives in a sibling process this node only talks
// HTTP to, same posture as contractgw treats the chain as an external
// collaborator.
//
// Connection reuse is delegated to http.Transport's own idle-connection
// pool, configured with the bounds the teacher's core/connection_pool.go
// ConnPool applies to raw TCP connections (max idle per host, idle TTL) —
// the concept carries over even though HTTP already does the pooling.
package vectorstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/synnergy/hostnode/internal/errs"
)

// Config bounds the HTTP client's pooling behaviour (spec §9's
// "connection-pooled HTTP; idempotent GETs").
type Config struct {
	BaseURL        string
	MaxIdlePerHost int
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		MaxIdlePerHost: 8,
		IdleTimeout:    90 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Client is the typed get/put/delete/health facade over the bridge.
type Client struct {
	cfg Config
	hc  *http.Client
}

func New(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		hc: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: cfg.MaxIdlePerHost,
				IdleConnTimeout:     cfg.IdleTimeout,
			},
		},
	}
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// validatePath rejects anything that isn't the home/.../*.json shape the
// bridge expects (spec §4.5), before it ever reaches a network call.
func validatePath(path string) error {
	if path == "" || strings.Contains(path, "..") || !strings.HasSuffix(path, ".json") {
		return errs.New(errs.KindInvalidPath, path)
	}
	return nil
}

// Get fetches the opaque bytes at path. A 404 from the bridge maps to
// ManifestNotFound's underlying kind (spec §4.5): callers that mean
// "manifest" translate it themselves; this package just reports NotFound
// generically via KindManifestNotFound since every Get in this system is a
// manifest or chunk fetch.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternalError, err, "build get request")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindManifestDownloadFailed, err, "bridge get request failed")
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errs.Wrap(errs.KindManifestDownloadFailed, err, "read bridge response body")
		}
		return body, nil
	case http.StatusNotFound:
		return nil, errs.New(errs.KindManifestNotFound, path)
	case http.StatusServiceUnavailable:
		return nil, errs.New(errs.KindManifestDownloadFailed, "p2p network unavailable")
	default:
		return nil, errs.New(errs.KindManifestDownloadFailed, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
}

// Put uploads bytes to path and returns the bridge's content id.
func (c *Client) Put(ctx context.Context, path string, data []byte) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url(path), bytes.NewReader(data))
	if err != nil {
		return "", errs.Wrap(errs.KindInternalError, err, "build put request")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", errs.Wrap(errs.KindManifestDownloadFailed, err, "bridge put request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errs.New(errs.KindManifestDownloadFailed, fmt.Sprintf("put rejected with status %d", resp.StatusCode))
	}
	id, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.Wrap(errs.KindManifestDownloadFailed, err, "read content id")
	}
	return strings.TrimSpace(string(id)), nil
}

// Delete removes path from the bridge. Missing paths are not an error —
// delete is idempotent.
func (c *Client) Delete(ctx context.Context, path string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url(path), nil)
	if err != nil {
		return errs.Wrap(errs.KindInternalError, err, "build delete request")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindManifestDownloadFailed, err, "bridge delete request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return errs.New(errs.KindManifestDownloadFailed, fmt.Sprintf("delete rejected with status %d", resp.StatusCode))
	}
	return nil
}

// Health reports whether the bridge considers the P2P network reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("health"), nil)
	if err != nil {
		return errs.Wrap(errs.KindInternalError, err, "build health request")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindManifestDownloadFailed, err, "bridge health check failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errs.New(errs.KindManifestDownloadFailed, fmt.Sprintf("bridge unhealthy: status %d", resp.StatusCode))
	}
	return nil
}
