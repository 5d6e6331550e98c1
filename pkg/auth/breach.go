package auth

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// hibpRangeURL is the Have I Been Pwned range endpoint. Only the first
	// five characters of the SHA-1 hash leave the process (k-anonymity).
	hibpRangeURL = "https://api.pwnedpasswords.com/range/"

	breachCacheSize = 1024
	breachCacheTTL  = time.Hour
)

// BreachResult reports whether a password appears in known breach corpora.
type BreachResult struct {
	Breached bool `json:"breached"`
	Count    int  `json:"count,omitempty"`
}

// BreachChecker queries the HIBP range API with a TTL-bounded result cache
// keyed by hash prefix. Lookups fail open: a network or API error reports
// the password as not breached so signup is never blocked by an outage.
type BreachChecker struct {
	client  *http.Client
	baseURL string
	cache   *expirable.LRU[string, BreachResult]
}

// NewBreachChecker creates a breach checker with the default HIBP endpoint.
func NewBreachChecker() *BreachChecker {
	return &BreachChecker{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: hibpRangeURL,
		cache:   expirable.NewLRU[string, BreachResult](breachCacheSize, nil, breachCacheTTL),
	}
}

// NewBreachCheckerWithBaseURL creates a breach checker against a custom
// endpoint, for tests.
func NewBreachCheckerWithBaseURL(baseURL string) *BreachChecker {
	c := NewBreachChecker()
	c.baseURL = strings.TrimRight(baseURL, "/") + "/"
	return c
}

// Check reports whether password appears in known breaches.
func (c *BreachChecker) Check(ctx context.Context, password string) (BreachResult, error) {
	sum := sha1.Sum([]byte(password))
	hash := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := hash[:5], hash[5:]

	if cached, ok := c.cache.Get(prefix + suffix); ok {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+prefix, nil)
	if err != nil {
		return BreachResult{}, err
	}
	req.Header.Set("Add-Padding", "true")

	resp, err := c.client.Do(req)
	if err != nil {
		// Fail open on network error.
		return BreachResult{}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return BreachResult{}, nil
	}

	result := BreachResult{}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		candidate, countStr, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(candidate, suffix) {
			count, err := strconv.Atoi(strings.TrimSpace(countStr))
			if err != nil {
				continue
			}
			if count > 0 {
				result = BreachResult{Breached: true, Count: count}
			}
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return BreachResult{}, nil
	}

	c.cache.Add(prefix+suffix, result)
	return result, nil
}

// String renders a user-facing breach message.
func (r BreachResult) String() string {
	if !r.Breached {
		return "password not found in known breaches"
	}
	return fmt.Sprintf("password found in %d known breaches", r.Count)
}
