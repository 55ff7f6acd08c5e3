package fb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"doge-tipbot/internal/cache"
	"doge-tipbot/internal/convo"
	"doge-tipbot/internal/metrics"
)

const (
	// Source labels messages delivered by this transport.
	Source = "facebook"

	defaultTokenTTL  = 10 * time.Minute
	conversationLink = "id,unread_count,messages.limit(1){id,message,from,created_time}"
)

var (
	// ErrPageTokenMissing indicates the user token does not manage the page.
	ErrPageTokenMissing = errors.New("facebook page access token missing")
	// ErrInvalidToken indicates Graph rejected the access token.
	ErrInvalidToken = errors.New("facebook invalid access token")
)

// Config holds Graph API settings.
type Config struct {
	GraphURL  string
	PageID    string
	PageName  string
	UserToken string
	Timeout   time.Duration
}

// Client polls a Facebook Page inbox and replies into its conversations.
type Client struct {
	logger    *slog.Logger
	baseURL   string
	pageID    string
	pageName  string
	userToken string
	http      *http.Client
	metrics   *metrics.Metrics
	cache     *cache.Redis
	tokenTTL  time.Duration
}

// New creates a new Graph API client. redis may be nil.
func New(cfg Config, logger *slog.Logger, metrics *metrics.Metrics, redis *cache.Redis) *Client {
	base := strings.TrimRight(cfg.GraphURL, "/")
	if base == "" {
		base = "https://graph.facebook.com/v19.0"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		logger:    logger.With("component", "facebook"),
		baseURL:   base,
		pageID:    cfg.PageID,
		pageName:  cfg.PageName,
		userToken: cfg.UserToken,
		http:      &http.Client{Timeout: timeout},
		metrics:   metrics,
		cache:     redis,
		tokenTTL:  defaultTokenTTL,
	}
}

type graphError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

type accountsResponse struct {
	Data []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		AccessToken string `json:"access_token"`
	} `json:"data"`
}

// PageToken resolves the page access token from the user token, cached in
// Redis when configured.
func (c *Client) PageToken(ctx context.Context) (string, error) {
	cacheKey := c.tokenKey()
	if c.cache != nil {
		var cached string
		ok, err := c.cache.GetJSON(ctx, cacheKey, &cached)
		if err != nil {
			c.logger.Warn("read page token cache failed", "error", err)
		} else if ok && cached != "" {
			return cached, nil
		}
	}

	query := url.Values{}
	query.Set("access_token", c.userToken)
	var res accountsResponse
	if err := c.do(ctx, http.MethodGet, "/me/accounts", query, nil, &res); err != nil {
		return "", err
	}

	for _, acct := range res.Data {
		if acct.ID == c.pageID {
			if c.cache != nil {
				if err := c.cache.SetJSON(ctx, cacheKey, acct.AccessToken, c.tokenTTL); err != nil {
					c.logger.Warn("set page token cache failed", "error", err)
				}
			}
			return acct.AccessToken, nil
		}
	}
	return "", ErrPageTokenMissing
}

type graphUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type graphMessage struct {
	ID          string    `json:"id"`
	Message     string    `json:"message"`
	From        graphUser `json:"from"`
	CreatedTime string    `json:"created_time"`
}

type conversation struct {
	ID          string `json:"id"`
	UnreadCount int    `json:"unread_count"`
	Messages    struct {
		Data []graphMessage `json:"data"`
	} `json:"messages"`
}

type conversationsResponse struct {
	Data []conversation `json:"data"`
}

// FetchUnread returns the latest message of every conversation with unread
// messages, skipping conversations where the page spoke last.
func (c *Client) FetchUnread(ctx context.Context) ([]convo.Message, error) {
	token, err := c.PageToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("page token: %w", err)
	}

	query := url.Values{}
	query.Set("access_token", token)
	query.Set("fields", conversationLink)
	var res conversationsResponse
	if err := c.do(ctx, http.MethodGet, "/"+url.PathEscape(c.pagePath())+"/conversations", query, nil, &res); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			c.forgetPageToken(ctx)
		}
		return nil, err
	}

	var out []convo.Message
	for _, conv := range res.Data {
		if conv.UnreadCount <= 0 || len(conv.Messages.Data) == 0 {
			continue
		}
		latest := conv.Messages.Data[0]
		if latest.From.ID == "" || latest.From.ID == c.pageID {
			continue
		}
		out = append(out, convo.Message{
			Source:         Source,
			ConversationID: conv.ID,
			MessageID:      latest.ID,
			Text:           latest.Message,
			SenderID:       latest.From.ID,
			SenderName:     latest.From.Name,
			PlatformToken:  token,
		})
	}
	return out, nil
}

// Reply posts text into a page conversation. An empty token resolves the page
// token first.
func (c *Client) Reply(ctx context.Context, conversationID, token, text string) error {
	if conversationID == "" {
		return errors.New("facebook reply: empty conversation id")
	}
	if token == "" {
		var err error
		token, err = c.PageToken(ctx)
		if err != nil {
			return fmt.Errorf("page token: %w", err)
		}
	}

	query := url.Values{}
	query.Set("access_token", token)
	form := url.Values{}
	form.Set("message", text)
	endpoint := "/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodPost, endpoint, query, strings.NewReader(form.Encode()), nil); err != nil {
		return err
	}
	return nil
}

func (c *Client) forgetPageToken(ctx context.Context) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Client().Del(ctx, c.tokenKey()).Err(); err != nil {
		c.logger.Warn("drop page token cache failed", "error", err)
	}
}

func (c *Client) tokenKey() string {
	return "facebook:pagetoken:" + c.pageID
}

func (c *Client) pagePath() string {
	if c.pageName != "" {
		return c.pageName
	}
	return c.pageID
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, dest any) error {
	reqURL := c.baseURL + endpoint
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "doge-tipbot/graph-client")

	label := metricEndpoint(endpoint)
	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.GraphRequests.WithLabelValues(label, "error").Inc()
		}
		return fmt.Errorf("graph request: %w", err)
	}
	defer res.Body.Close()

	statusLabel := fmt.Sprintf("%d", res.StatusCode)
	if c.metrics != nil {
		c.metrics.GraphRequests.WithLabelValues(label, statusLabel).Inc()
		c.metrics.GraphLatency.WithLabelValues(label, statusLabel).Observe(time.Since(start).Seconds())
	}

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode >= 400 {
		return classifyHTTPError(res.StatusCode, bodyBytes)
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// metricEndpoint collapses object ids so label cardinality stays bounded.
func metricEndpoint(endpoint string) string {
	switch {
	case endpoint == "/me/accounts":
		return "accounts"
	case strings.HasSuffix(endpoint, "/conversations"):
		return "conversations"
	case strings.HasSuffix(endpoint, "/messages"):
		return "messages"
	default:
		return "other"
	}
}

func classifyHTTPError(status int, body []byte) error {
	var envelope struct {
		Error *graphError `json:"error"`
	}
	snippet := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		// 190 is OAuthException for expired or invalid tokens.
		if envelope.Error.Code == 190 || status == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", ErrInvalidToken, envelope.Error.Message)
		}
		return fmt.Errorf("graph error: status=%d code=%d type=%s message=%s", status, envelope.Error.Code, envelope.Error.Type, envelope.Error.Message)
	}
	if status == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrInvalidToken, snippet)
	}
	return fmt.Errorf("graph error: status=%d body=%s", status, snippet)
}
