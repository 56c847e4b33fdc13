package doi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"md2tex/internal/diag"
	"md2tex/internal/logging"
)

// HTTP client defaults. Verification is best-effort and must never stall a
// build, so the timeout is short and retries are few.
const (
	defaultTimeout  = 5 * time.Second
	maxAttempts     = 3
	initialBackoff  = 500 * time.Millisecond
	maxResponseSize = 1 << 20
)

const (
	resolverBaseURL = "https://doi.org/"
	crossrefBaseURL = "https://api.crossref.org/works/"
	userAgent       = "md2tex (mailto:md2tex@example.org)"
)

// Outcome is the verification result for one DOI.
type Outcome struct {
	DOI      string
	Resolves bool
	Payload  json.RawMessage // Crossref metadata, nil when unavailable
	Cached   bool
}

// Verifier checks DOI resolution against doi.org and fetches Crossref
// metadata, consulting the cache first. In offline mode the caches are
// read-only and a miss is simply unknown.
type Verifier struct {
	cache       *Cache
	client      *http.Client
	log         *slog.Logger
	offline     bool
	resolverURL string
	crossrefURL string
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) VerifierOption {
	return func(v *Verifier) { v.client = client }
}

// WithOffline disables all network access.
func WithOffline(offline bool) VerifierOption {
	return func(v *Verifier) { v.offline = offline }
}

// WithEndpoints overrides the resolver and metadata service base URLs.
func WithEndpoints(resolver, crossref string) VerifierOption {
	return func(v *Verifier) {
		v.resolverURL = resolver
		v.crossrefURL = crossref
	}
}

// NewVerifier creates a Verifier backed by cache.
func NewVerifier(cache *Cache, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		cache:       cache,
		client:      &http.Client{Timeout: defaultTimeout},
		log:         logging.New("doi"),
		resolverURL: resolverBaseURL,
		crossrefURL: crossrefBaseURL,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks one DOI. Network failure is reported through the
// diagnostic, never an error: an unreachable metadata service downgrades
// the citation to unverified.
func (v *Verifier) Verify(ctx context.Context, doi string) (Outcome, *diag.Diagnostic) {
	if res, ok := v.cache.GetResolution(doi); ok {
		out := Outcome{DOI: doi, Resolves: res.Resolves, Cached: true}
		if payload, ok := v.cache.Get(doi); ok {
			out.Payload = payload
		}
		return out, nil
	}

	if v.offline {
		return Outcome{DOI: doi}, nil // unknown, no diagnostic
	}

	resolves, err := v.checkResolution(ctx, doi)
	if err != nil {
		d := diag.Warnf(diag.KindMetadataService, "", 0,
			"could not verify DOI %s: %v", doi, err)
		return Outcome{DOI: doi}, &d
	}
	v.cache.PutResolution(doi, resolves, "")

	out := Outcome{DOI: doi, Resolves: resolves}
	if !resolves {
		return out, nil
	}

	payload, err := v.fetchMetadata(ctx, doi)
	if err != nil {
		v.log.Debug("metadata fetch failed", "doi", doi, "error", err)
		return out, nil // resolution succeeded; metadata is a bonus
	}
	v.cache.Put(doi, payload)
	out.Payload = payload
	return out, nil
}

// checkResolution asks the resolver whether the DOI exists. A 404 is a
// definitive no; other statuses (redirects are followed) mean yes.
func (v *Verifier) checkResolution(ctx context.Context, doi string) (bool, error) {
	var lastErr error
	backoff := initialBackoff

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodHead,
			v.resolverURL+url.PathEscape(doi), nil)
		if err != nil {
			return false, err
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := v.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return false, nil
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("resolver returned %s", resp.Status)
			continue
		default:
			return true, nil
		}
	}
	return false, lastErr
}

// fetchMetadata retrieves the Crossref work record for a DOI.
func (v *Verifier) fetchMetadata(ctx context.Context, doi string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		v.crossrefURL+url.PathEscape(doi), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata service returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("metadata service returned invalid JSON")
	}
	return json.RawMessage(body), nil
}

// VerifyAll verifies every DOI sequentially, collecting diagnostics. The
// rate limits of the public metadata services make per-DOI parallelism a
// liability rather than a win.
func (v *Verifier) VerifyAll(ctx context.Context, dois []string) ([]Outcome, []diag.Diagnostic) {
	outcomes := make([]Outcome, 0, len(dois))
	var diags []diag.Diagnostic

	for _, doi := range dois {
		if ctx.Err() != nil {
			break
		}
		out, d := v.Verify(ctx, doi)
		outcomes = append(outcomes, out)
		if d != nil {
			diags = append(diags, *d)
		}
	}
	return outcomes, diags
}
