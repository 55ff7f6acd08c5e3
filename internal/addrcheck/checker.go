package addrcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"doge-tipbot/internal/cache"
	"doge-tipbot/internal/metrics"
)

var (
	// ErrInvalidAddress means the address failed the structural check or the
	// verification service flagged it.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrValidationUnavailable means the verification service could not be
	// reached or answered with an error.
	ErrValidationUnavailable = errors.New("address validation unavailable")
)

const defaultCacheTTL = 24 * time.Hour

// Config holds the address rules and verification service settings.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	AddressLength int
	AddressPrefix string
	BadCodes      []string
	CacheTTL      time.Duration
}

// Checker validates withdrawal destination addresses.
type Checker struct {
	logger   *slog.Logger
	baseURL  string
	http     *http.Client
	metrics  *metrics.Metrics
	cache    *cache.Redis
	cacheTTL time.Duration
	length   int
	prefix   string
	badCodes map[string]struct{}
}

// New creates a new Checker. redis may be nil.
func New(cfg Config, logger *slog.Logger, metrics *metrics.Metrics, redis *cache.Redis) *Checker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	bad := make(map[string]struct{}, len(cfg.BadCodes))
	for _, code := range cfg.BadCodes {
		bad[strings.ToUpper(strings.TrimSpace(code))] = struct{}{}
	}
	return &Checker{
		logger:   logger.With("component", "addrcheck"),
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		metrics:  metrics,
		cache:    redis,
		cacheTTL: ttl,
		length:   cfg.AddressLength,
		prefix:   cfg.AddressPrefix,
		badCodes: bad,
	}
}

// Validate returns nil when address is usable as a withdrawal destination.
// Structurally invalid addresses are rejected without a remote call.
func (c *Checker) Validate(ctx context.Context, address string) error {
	if !c.wellFormed(address) {
		c.observe("malformed")
		return ErrInvalidAddress
	}

	cacheKey := "addrcheck:" + address
	if c.cache != nil {
		var cached string
		ok, err := c.cache.GetJSON(ctx, cacheKey, &cached)
		if err != nil {
			c.logger.Warn("read address cache failed", "error", err)
		} else if ok {
			c.observe("cached")
			return nil
		}
	}

	code, err := c.lookup(ctx, address)
	if err != nil {
		c.observe("unavailable")
		c.logger.Error("address check failed", "error", err)
		return fmt.Errorf("%w: %v", ErrValidationUnavailable, err)
	}
	if _, bad := c.badCodes[strings.ToUpper(code)]; bad {
		c.observe("rejected")
		return ErrInvalidAddress
	}

	c.observe("accepted")
	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, cacheKey, code, c.cacheTTL); err != nil {
			c.logger.Warn("set address cache failed", "error", err)
		}
	}
	return nil
}

func (c *Checker) wellFormed(address string) bool {
	if c.length > 0 && len(address) != c.length {
		return false
	}
	return c.prefix == "" || strings.HasPrefix(address, c.prefix)
}

// lookup queries the checkaddress endpoint, which answers with a bare
// classification code in the response body.
func (c *Checker) lookup(ctx context.Context, address string) (string, error) {
	reqURL := c.baseURL + "/" + url.PathEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", "doge-tipbot/addrcheck")

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("checkaddress request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode >= 400 {
		return "", fmt.Errorf("checkaddress error: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return strings.Trim(strings.TrimSpace(string(body)), `"`), nil
}

func (c *Checker) observe(outcome string) {
	if c.metrics != nil {
		c.metrics.AddressChecks.WithLabelValues(outcome).Inc()
	}
}
