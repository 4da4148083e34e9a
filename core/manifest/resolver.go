package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/oxlabs/llamactl/core/model"
	"github.com/oxlabs/llamactl/lib/logger"
	"github.com/oxlabs/llamactl/lib/retry"
)

var log, _ = logger.New("manifest")

var (
	ErrEmptyHash         = errors.New("model hash is required")
	ErrMalformedManifest = errors.New("malformed manifest")
)

// StatusError reports a non-2xx gateway response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d for %s", e.Code, e.URL)
}

// Resolver fetches and validates manifests from the storage gateway.
type Resolver struct {
	gateway string
	client  *http.Client
	cache   *Store
	retry   retry.Policy
}

// NewResolver returns a resolver for the given gateway. cache may be nil,
// in which case every Resolve hits the gateway.
func NewResolver(cfg *Config, cache *Store) *Resolver {
	return &Resolver{
		gateway: cfg.Gateway,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		cache:   cache,
		retry: retry.Policy{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.InitialBackoff,
			MaxDelay:     cfg.MaxBackoff,
			Retryable:    retryable,
		},
	}
}

// Resolve fetches the manifest for id. Validation failures are fatal: a
// manifest that did not validate must never be used to fetch parts.
func (r *Resolver) Resolve(ctx context.Context, id string) (*model.Manifest, error) {
	if id == "" {
		return nil, ErrEmptyHash
	}

	if r.cache != nil {
		cached, err := r.cache.Get(ctx, id)
		if err == nil {
			log.Debugw("manifest cache hit", "hash", id)
			return cached, nil
		}
	}

	var m model.Manifest
	err := r.retry.Do(ctx, func() error {
		return r.fetch(ctx, id, &m)
	})
	if err != nil {
		return nil, err
	}

	if err := Validate(&m); err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.Put(ctx, id, &m); err != nil {
			log.Warnw("manifest cache write failed", "hash", id, "error", err)
		}
	}

	log.Infow("manifest resolved", "hash", id, "model", m.Model, "parts", m.NumFiles)
	return &m, nil
}

func (r *Resolver) fetch(ctx context.Context, id string, out *model.Manifest) error {
	u, err := url.JoinPath(r.gateway, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, URL: u}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}

	return nil
}

// Validate checks the structural invariants of a manifest: artifact name
// present, part count positive and matching the part list, file names
// non-empty and unique.
func Validate(m *model.Manifest) error {
	if m.Model == "" {
		return fmt.Errorf("%w: missing model name", ErrMalformedManifest)
	}

	if m.NumFiles <= 0 {
		return fmt.Errorf("%w: non-positive part count %d", ErrMalformedManifest, m.NumFiles)
	}

	if len(m.Parts) != m.NumFiles {
		return fmt.Errorf("%w: %d parts listed, %d declared", ErrMalformedManifest, len(m.Parts), m.NumFiles)
	}

	seen := make(map[string]struct{}, len(m.Parts))
	for _, p := range m.Parts {
		if p.FileName == "" || p.ContentID == "" {
			return fmt.Errorf("%w: part with empty file name or content id", ErrMalformedManifest)
		}

		if _, dup := seen[p.FileName]; dup {
			return fmt.Errorf("%w: duplicate part file %q", ErrMalformedManifest, p.FileName)
		}

		seen[p.FileName] = struct{}{}
	}

	return nil
}

// retryable treats transport failures and 5xx responses as transient.
// Malformed manifests and 4xx responses never heal by retrying.
func retryable(err error) bool {
	if errors.Is(err, ErrMalformedManifest) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == http.StatusTooManyRequests
	}

	return true
}
