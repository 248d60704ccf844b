package idp

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shortsai/backend/internal/log"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCertsURL serves the x509 certificates that sign Firebase ID tokens.
	DefaultCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

	defaultCertsTTL = time.Hour

	certsFetchTimeout = 10 * time.Second
)

// certCache holds the provider's public keys by kid and refreshes them
// according to the Cache-Control max-age of the certificate response.
type certCache struct {
	url    string
	client *http.Client
	now    func() time.Time

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time

	group singleflight.Group
}

func newCertCache(url string, client *http.Client, now func() time.Time) *certCache {
	return &certCache{url: url, client: client, now: now}
}

// key returns the public key for kid, refreshing the set when it is stale or
// does not know the kid yet. Fetch failures wrap ErrVerifierUnavailable.
func (c *certCache) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	pub, ok := c.keys[kid]
	fresh := c.now().Before(c.expiresAt)
	c.mu.RUnlock()
	if ok && fresh {
		return pub, nil
	}

	ch := c.group.DoChan("refresh", func() (any, error) {
		// Shared by all waiters; detached from any one caller's cancellation.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), certsFetchTimeout)
		defer cancel()
		return nil, c.refresh(fetchCtx)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrVerifierUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	pub, ok = c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return pub, nil
}

func (c *certCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: building certificate request: %w", ErrVerifierUnavailable, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: fetching certificates: %w", ErrVerifierUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: certificate endpoint returned %d: %s", ErrVerifierUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var pems map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&pems); err != nil {
		return fmt.Errorf("%w: decoding certificates: %w", ErrVerifierUnavailable, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(pems))
	for kid, data := range pems {
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(data))
		if err != nil {
			log.LogWarnWithFields("idp", "Skipping unparsable signing certificate", map[string]any{
				"kid":   kid,
				"error": err.Error(),
			})
			continue
		}
		keys[kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: no usable signing certificates", ErrVerifierUnavailable)
	}

	ttl := maxAge(resp.Header.Get("Cache-Control"))
	c.mu.Lock()
	c.keys = keys
	c.expiresAt = c.now().Add(ttl)
	c.mu.Unlock()

	log.LogDebugWithFields("idp", "Refreshed signing certificates", map[string]any{
		"count": len(keys),
		"ttl":   ttl.String(),
	})
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		secs, err := strconv.Atoi(value)
		if err != nil || secs <= 0 {
			break
		}
		return time.Duration(secs) * time.Second
	}
	return defaultCertsTTL
}
