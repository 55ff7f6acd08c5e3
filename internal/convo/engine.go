package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"doge-tipbot/internal/addrcheck"
	"doge-tipbot/internal/metrics"
	"doge-tipbot/internal/repo"
	"doge-tipbot/internal/wallet"
)

// AddressValidator checks a withdrawal destination address.
type AddressValidator interface {
	Validate(ctx context.Context, address string) error
}

// Wallet is the custodial wallet backend keyed by sender digest.
type Wallet interface {
	DepositAddress(ctx context.Context, account string) (string, error)
	Balance(ctx context.Context, account, currency string) (decimal.Decimal, error)
	Transfer(ctx context.Context, account, address string, amount decimal.Decimal, currency string) (string, error)
	ListTransactions(ctx context.Context, account string, limit int) ([]wallet.Transaction, error)
}

// ReplySink delivers a reply into the conversation a message came from.
type ReplySink interface {
	Reply(ctx context.Context, conversationID, token, text string) error
}

// EngineConfig carries coin-specific behaviour.
type EngineConfig struct {
	Coin         string
	KnownCodes   []string
	HistoryLimit int
}

// Engine orchestrates the workflows behind each chat command.
type Engine struct {
	store      repo.UserStore
	validator  AddressValidator
	wallet     Wallet
	sink       ReplySink
	addresses  AddressParser
	withdrawal WithdrawalParser
	metrics    *metrics.Metrics
	logger     *slog.Logger
	cfg        EngineConfig
}

// New constructs an Engine using the default token parser.
func New(store repo.UserStore, validator AddressValidator, wallet Wallet, sink ReplySink, metrics *metrics.Metrics, logger *slog.Logger, cfg EngineConfig) *Engine {
	cfg.Coin = strings.ToUpper(cfg.Coin)
	if cfg.Coin == "" {
		cfg.Coin = "DOGE"
	}
	if len(cfg.KnownCodes) == 0 {
		cfg.KnownCodes = []string{cfg.Coin}
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 75
	}
	parser := NewTokenParser(cfg.KnownCodes)
	return &Engine{
		store:      store,
		validator:  validator,
		wallet:     wallet,
		sink:       sink,
		addresses:  parser,
		withdrawal: parser,
		metrics:    metrics,
		logger:     logger.With("component", "convo"),
		cfg:        cfg,
	}
}

// SetReplySink swaps the sink used for replies.
func (e *Engine) SetReplySink(sink ReplySink) {
	e.sink = sink
}

type outcome struct {
	reply string
	label string
}

// ProcessMessage runs the workflow for msg and sends exactly one reply.
// Messages without a conversation or sender are dropped silently.
func (e *Engine) ProcessMessage(ctx context.Context, msg Message) {
	if msg.ConversationID == "" || msg.SenderID == "" {
		e.logger.Debug("dropping malformed message", "message_id", msg.MessageID, "source", msg.Source)
		return
	}

	cmd := NewCommand(msg)
	logger := e.logger.With(
		"request_id", uuid.NewString(),
		"command", string(cmd.Kind),
		"conversation_id", cmd.ConversationID,
		"user", shortDigest(cmd.SenderDigest),
	)
	if e.metrics != nil {
		e.metrics.InboundMessages.WithLabelValues(msg.Source).Inc()
		e.metrics.Commands.WithLabelValues(string(cmd.Kind)).Inc()
	}

	var res outcome
	switch cmd.Kind {
	case KindRegister:
		res = e.register(ctx, cmd, logger)
	case KindWithdraw:
		res = e.withdraw(ctx, cmd, logger)
	case KindInfo:
		res = e.info(ctx, cmd, logger)
	case KindHistory:
		res = e.history(ctx, cmd, logger)
	default:
		res = outcome{reply: replyUnknownCommand, label: "unknown"}
	}

	logger.Info("command handled", "outcome", res.label)
	if e.metrics != nil {
		e.metrics.WorkflowOutcomes.WithLabelValues(string(cmd.Kind), res.label).Inc()
	}
	e.send(ctx, msg.Source, cmd, res.reply, logger)
}

func (e *Engine) send(ctx context.Context, source string, cmd Command, text string, logger *slog.Logger) {
	status := "ok"
	if err := e.sink.Reply(ctx, cmd.ConversationID, cmd.PlatformToken, text); err != nil {
		status = "error"
		logger.Error("send reply failed", "error", err)
		e.countError("reply")
	}
	if e.metrics != nil {
		e.metrics.OutgoingReplies.WithLabelValues(source, status).Inc()
	}
}

func (e *Engine) register(ctx context.Context, cmd Command, logger *slog.Logger) outcome {
	address, err := e.addresses.ParseAddress(cmd.RawText)
	if err != nil {
		return outcome{reply: replyMissingAddress, label: "missing_argument"}
	}

	if err := e.validator.Validate(ctx, address); err != nil {
		if errors.Is(err, addrcheck.ErrInvalidAddress) {
			return outcome{reply: replyInvalidAddress(e.cfg.Coin), label: "invalid_address"}
		}
		logger.Error("address validation failed", "error", err)
		e.countError("addrcheck")
		return outcome{reply: replyTryLater("registering"), label: "validation_unavailable"}
	}

	existing, err := e.store.GetUser(ctx, cmd.SenderDigest)
	if err != nil {
		logger.Error("load user failed", "error", err)
		e.countError("store")
		return outcome{reply: replyTryLater("registering"), label: "store_error"}
	}
	if existing != nil {
		return outcome{reply: replyAlreadyRegistered(existing.DepositAddress), label: "already_registered"}
	}

	deposit, err := e.wallet.DepositAddress(ctx, cmd.SenderDigest)
	if err != nil {
		logger.Error("create deposit address failed", "error", err)
		e.countError("wallet")
		return outcome{reply: replyTryLater("registering"), label: "wallet_error"}
	}

	err = e.store.CreateUser(ctx, repo.UserRecord{
		UserID:            cmd.SenderDigest,
		RegisteredAddress: address,
		DepositAddress:    deposit,
		LastMessageID:     cmd.MessageID,
	})
	switch {
	case errors.Is(err, repo.ErrAlreadyExists):
		// Lost a race with a concurrent registration from the same sender.
		return outcome{reply: replyAlreadyRegisteredGeneric, label: "already_registered"}
	case err != nil:
		logger.Error("create user failed", "error", err)
		e.countError("store")
		return outcome{reply: replyTryLater("registering"), label: "store_error"}
	}

	logger.Info("user registered")
	return outcome{reply: replyRegistered(address, deposit), label: "registered"}
}

func (e *Engine) withdraw(ctx context.Context, cmd Command, logger *slog.Logger) outcome {
	user, res, ok := e.loadRegistered(ctx, cmd, "withdrawing", logger)
	if !ok {
		return res
	}

	req, err := e.withdrawal.ParseWithdrawal(cmd.RawText)
	switch {
	case errors.Is(err, ErrMissingArgument):
		return outcome{reply: replyMissingWithdrawArgs, label: "missing_argument"}
	case err != nil:
		return outcome{reply: replyInvalidWithdrawArgs, label: "invalid_argument"}
	}
	if err := e.checkCurrency(req.Currency); errors.Is(err, ErrUnsupportedCurrency) {
		logger.Debug("withdrawal refused", "error", err)
		return outcome{reply: replyUnsupportedCurrency(req.Currency, e.cfg.Coin), label: "unsupported_currency"}
	}

	balance, err := e.wallet.Balance(ctx, cmd.SenderDigest, req.Currency)
	switch {
	case errors.Is(err, wallet.ErrUnsupportedCoin):
		logger.Warn("wallet refused currency", "error", err)
		return outcome{reply: replyUnsupportedCurrency(req.Currency, e.cfg.Coin), label: "unsupported_currency"}
	case err != nil:
		logger.Error("read balance failed", "error", err)
		e.countError("wallet")
		return outcome{reply: replyTryLater("withdrawing"), label: "wallet_error"}
	}
	if balance.LessThan(req.Amount) {
		return outcome{reply: replyInsufficient(req.Currency), label: "insufficient_funds"}
	}

	txid, err := e.wallet.Transfer(ctx, cmd.SenderDigest, user.RegisteredAddress, req.Amount, req.Currency)
	switch {
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return outcome{reply: replyInsufficient(req.Currency), label: "insufficient_funds"}
	case err != nil:
		logger.Error("transfer failed", "error", err, "amount", req.Amount.String())
		e.countError("wallet")
		return outcome{reply: replyTryLater("withdrawing"), label: "wallet_error"}
	}

	logger.Info("withdrawal sent", "amount", req.Amount.String(), "txid", txid)
	if err := e.store.UpdateLastMessage(ctx, cmd.SenderDigest, cmd.MessageID); err != nil {
		logger.Warn("update last message failed", "error", err)
	}
	return outcome{reply: replyWithdrawn(req.Amount, req.Currency, txid), label: "withdrawn"}
}

func (e *Engine) info(ctx context.Context, cmd Command, logger *slog.Logger) outcome {
	user, res, ok := e.loadRegistered(ctx, cmd, "returning your info", logger)
	if !ok {
		return res
	}
	return outcome{reply: replyInfo(user.DepositAddress), label: "ok"}
}

func (e *Engine) history(ctx context.Context, cmd Command, logger *slog.Logger) outcome {
	if _, res, ok := e.loadRegistered(ctx, cmd, "returning history", logger); !ok {
		return res
	}

	txs, err := e.wallet.ListTransactions(ctx, cmd.SenderDigest, e.cfg.HistoryLimit)
	if err != nil {
		logger.Error("list transactions failed", "error", err)
		e.countError("wallet")
		return outcome{reply: replyTryLater("returning history"), label: "wallet_error"}
	}
	return outcome{reply: formatHistory(txs, e.cfg.Coin), label: "ok"}
}

// checkCurrency reports ErrUnsupportedCurrency for any code other than the
// coin this engine settles in.
func (e *Engine) checkCurrency(code string) error {
	if code != e.cfg.Coin {
		return fmt.Errorf("%w: %s", ErrUnsupportedCurrency, code)
	}
	return nil
}

// loadRegistered fetches the sender's record. ok is false when the workflow
// must stop with res as its reply.
func (e *Engine) loadRegistered(ctx context.Context, cmd Command, action string, logger *slog.Logger) (*repo.UserRecord, outcome, bool) {
	user, err := e.store.GetUser(ctx, cmd.SenderDigest)
	if err != nil {
		logger.Error("load user failed", "error", err)
		e.countError("store")
		return nil, outcome{reply: replyTryLater(action), label: "store_error"}, false
	}
	if user == nil {
		return nil, outcome{reply: replyNotRegistered(e.cfg.Coin), label: "not_registered"}, false
	}
	return user, outcome{}, true
}

func (e *Engine) countError(component string) {
	if e.metrics != nil {
		e.metrics.Errors.WithLabelValues(component).Inc()
	}
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
