package wallet

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"doge-tipbot/internal/metrics"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
)

// codeInsufficientFunds is RPC_WALLET_INSUFFICIENT_FUNDS in bitcoind-derived nodes.
const codeInsufficientFunds = -6

var (
	// ErrInsufficientFunds indicates the account cannot cover the transfer.
	ErrInsufficientFunds = errors.New("wallet insufficient funds")
	// ErrUnsupportedCoin indicates a currency the backend account does not hold.
	ErrUnsupportedCoin = errors.New("wallet unsupported coin")
)

// Config holds wallet backend connection settings.
type Config struct {
	URL      string
	User     string
	Password string
	Coin     string
	MinConf  int
	Timeout  time.Duration
}

// Client talks to a custodial dogecoind-style node over JSON-RPC. Every call
// is addressed by an account label, which is the user's sender digest.
type Client struct {
	rpc     *gethrpc.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	coin    string
	minConf int
}

// Transaction is a single wallet movement as reported by listtransactions.
type Transaction struct {
	Account       string          `json:"account"`
	Address       string          `json:"address"`
	Category      string          `json:"category"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	Confirmations int64           `json:"confirmations"`
	TxID          string          `json:"txid"`
	Time          int64           `json:"time"`
}

// New dials the wallet RPC endpoint. HTTP endpoints are connected lazily.
func New(ctx context.Context, cfg Config, logger *slog.Logger, metrics *metrics.Metrics) (*Client, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("wallet rpc url is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opts := []gethrpc.ClientOption{
		gethrpc.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if cfg.User != "" {
		opts = append(opts, gethrpc.WithHTTPAuth(basicAuth(cfg.User, cfg.Password)))
	}

	rpcClient, err := gethrpc.DialOptions(ctx, url, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial wallet rpc: %w", err)
	}

	coin := strings.ToUpper(strings.TrimSpace(cfg.Coin))
	if coin == "" {
		coin = "DOGE"
	}
	minConf := cfg.MinConf
	if minConf < 0 {
		minConf = 0
	}

	return &Client{
		rpc:     rpcClient,
		logger:  logger.With("component", "wallet"),
		metrics: metrics,
		coin:    coin,
		minConf: minConf,
	}, nil
}

// Close releases the RPC client.
func (c *Client) Close() {
	c.rpc.Close()
}

// Ping checks the node is answering.
func (c *Client) Ping(ctx context.Context) error {
	var height int64
	return c.call(ctx, &height, "getblockcount")
}

// DepositAddress returns the receiving address for the account, creating it
// on first use.
func (c *Client) DepositAddress(ctx context.Context, account string) (string, error) {
	var address string
	if err := c.call(ctx, &address, "getaccountaddress", account); err != nil {
		return "", err
	}
	if strings.TrimSpace(address) == "" {
		return "", errors.New("wallet getaccountaddress: empty address")
	}
	return address, nil
}

// Balance returns the confirmed balance held for the account.
func (c *Client) Balance(ctx context.Context, account, currency string) (decimal.Decimal, error) {
	if err := c.checkCoin(currency); err != nil {
		return decimal.Zero, err
	}
	var balance decimal.Decimal
	if err := c.call(ctx, &balance, "getbalance", account, c.minConf); err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// Transfer sends amount from the account to address and returns the txid.
func (c *Client) Transfer(ctx context.Context, account, address string, amount decimal.Decimal, currency string) (string, error) {
	if err := c.checkCoin(currency); err != nil {
		return "", err
	}
	if !amount.IsPositive() {
		return "", fmt.Errorf("wallet sendfrom: amount must be positive, got %s", amount)
	}
	var txid string
	if err := c.call(ctx, &txid, "sendfrom", account, address, json.Number(amount.String()), c.minConf); err != nil {
		return "", err
	}
	c.logger.Info("transfer sent", "account", account, "amount", amount.String(), "coin", c.coin, "txid", txid)
	return txid, nil
}

// ListTransactions returns at most limit transactions, most recent first.
func (c *Client) ListTransactions(ctx context.Context, account string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 10
	}
	var txs []Transaction
	if err := c.call(ctx, &txs, "listtransactions", account, limit, 0); err != nil {
		return nil, err
	}
	// The node lists oldest first.
	for i, j := 0, len(txs)-1; i < j; i, j = i+1, j-1 {
		txs[i], txs[j] = txs[j], txs[i]
	}
	if len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}

func (c *Client) checkCoin(currency string) error {
	if !strings.EqualFold(strings.TrimSpace(currency), c.coin) {
		return fmt.Errorf("%w: %s", ErrUnsupportedCoin, currency)
	}
	return nil
}

func (c *Client) call(ctx context.Context, result any, method string, args ...any) error {
	start := time.Now()
	err := c.rpc.CallContext(ctx, result, method, args...)
	status := "ok"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.WalletRequests.WithLabelValues(method, status).Inc()
		c.metrics.WalletLatency.WithLabelValues(method, status).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return classifyRPCError(method, err)
	}
	return nil
}

func classifyRPCError(method string, err error) error {
	code, message, ok := rpcErrorDetail(err)
	if !ok {
		return fmt.Errorf("wallet %s: %w", method, err)
	}
	if code == codeInsufficientFunds {
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, message)
	}
	return fmt.Errorf("wallet %s: %s (code=%d)", method, message, code)
}

// rpcErrorDetail extracts the node's error code. Older nodes answer errors with
// HTTP 500 and the JSON-RPC envelope in the body.
func rpcErrorDetail(err error) (int, string, bool) {
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode(), rpcErr.Error(), true
	}
	var httpErr gethrpc.HTTPError
	if errors.As(err, &httpErr) && len(httpErr.Body) > 0 {
		var env struct {
			Error *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(httpErr.Body, &env) == nil && env.Error != nil {
			return env.Error.Code, env.Error.Message, true
		}
	}
	return 0, "", false
}

func basicAuth(user, password string) gethrpc.HTTPAuth {
	token := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
	return func(h http.Header) error {
		h.Set("Authorization", "Basic "+token)
		return nil
	}
}
