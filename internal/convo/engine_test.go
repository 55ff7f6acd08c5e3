package convo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"doge-tipbot/internal/addrcheck"
	"doge-tipbot/internal/logging"
	"doge-tipbot/internal/metrics"
	"doge-tipbot/internal/repo"
	"doge-tipbot/internal/wallet"
)

const (
	goodAddress    = "DH5yaieqoZN36fDVciNyRueRGvGLR3mr7L"
	depositAddress = "DDepositAddressForTestsxxxxxxxxxxx"
)

type stubValidator struct {
	err   error
	calls int
}

func (v *stubValidator) Validate(context.Context, string) error {
	v.calls++
	return v.err
}

type fakeWallet struct {
	mu          sync.Mutex
	balance     decimal.Decimal
	depositErr  error
	balanceErr  error
	transferErr error
	historyErr  error
	txs         []wallet.Transaction
	calls       []string
	transfers   []decimal.Decimal
	destination string
}

func (w *fakeWallet) record(method string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, method)
}

func (w *fakeWallet) DepositAddress(context.Context, string) (string, error) {
	w.record("deposit")
	if w.depositErr != nil {
		return "", w.depositErr
	}
	return depositAddress, nil
}

func (w *fakeWallet) Balance(context.Context, string, string) (decimal.Decimal, error) {
	w.record("balance")
	return w.balance, w.balanceErr
}

func (w *fakeWallet) Transfer(_ context.Context, _ string, address string, amount decimal.Decimal, _ string) (string, error) {
	w.record("transfer")
	if w.transferErr != nil {
		return "", w.transferErr
	}
	w.mu.Lock()
	w.transfers = append(w.transfers, amount)
	w.destination = address
	w.mu.Unlock()
	return "txid-123", nil
}

func (w *fakeWallet) ListTransactions(context.Context, string, int) ([]wallet.Transaction, error) {
	w.record("history")
	if w.historyErr != nil {
		return nil, w.historyErr
	}
	return w.txs, nil
}

type reply struct {
	conversationID string
	token          string
	text           string
}

type recordingSink struct {
	mu      sync.Mutex
	replies []reply
	err     error
}

func (s *recordingSink) Reply(_ context.Context, conversationID, token, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, reply{conversationID, token, text})
	return s.err
}

func (s *recordingSink) last(t *testing.T) reply {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		t.Fatal("no reply sent")
	}
	return s.replies[len(s.replies)-1]
}

// failingStore errors on every call.
type failingStore struct{ repo.MemoryStore }

func (*failingStore) GetUser(context.Context, string) (*repo.UserRecord, error) {
	return nil, errors.New("connection reset")
}

// racingStore reports no user on read but loses the create.
type racingStore struct{ repo.MemoryStore }

func (*racingStore) GetUser(context.Context, string) (*repo.UserRecord, error) { return nil, nil }

func (*racingStore) CreateUser(context.Context, repo.UserRecord) error { return repo.ErrAlreadyExists }

// brokenCreateStore finds no user and fails every create.
type brokenCreateStore struct{ repo.MemoryStore }

func (*brokenCreateStore) GetUser(context.Context, string) (*repo.UserRecord, error) { return nil, nil }

func (*brokenCreateStore) CreateUser(context.Context, repo.UserRecord) error {
	return errors.New("write timeout")
}

type harness struct {
	engine    *Engine
	store     *repo.MemoryStore
	validator *stubValidator
	wallet    *fakeWallet
	sink      *recordingSink
	metrics   *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     repo.NewMemoryStore(),
		validator: &stubValidator{},
		wallet:    &fakeWallet{balance: decimal.NewFromInt(10)},
		sink:      &recordingSink{},
		metrics:   metrics.NewUnregistered("test"),
	}
	h.engine = New(h.store, h.validator, h.wallet, h.sink, h.metrics, logging.Discard(), EngineConfig{
		Coin:       "DOGE",
		KnownCodes: []string{"BTC", "LTC", "DOGE"},
	})
	return h
}

func (h *harness) send(text string) {
	h.engine.ProcessMessage(context.Background(), Message{
		Source:         "facebook",
		ConversationID: "t_100",
		MessageID:      "m_" + text,
		Text:           text,
		SenderID:       "sender-1",
		PlatformToken:  "page-token",
	})
}

func (h *harness) register(t *testing.T) {
	t.Helper()
	h.send("register " + goodAddress)
	if got := h.sink.last(t).text; !strings.HasPrefix(got, "Successfully registered") {
		t.Fatalf("registration failed: %s", got)
	}
}

func TestRegisterCreatesRecord(t *testing.T) {
	h := newHarness(t)
	h.send("register " + goodAddress)

	r := h.sink.last(t)
	want := "Successfully registered " + goodAddress + ". Your deposit wallet is " + depositAddress
	if r.text != want {
		t.Fatalf("unexpected reply %q", r.text)
	}
	if r.conversationID != "t_100" || r.token != "page-token" {
		t.Fatalf("reply routed to wrong conversation: %+v", r)
	}

	rec, err := h.store.GetUser(context.Background(), SenderDigest("sender-1"))
	if err != nil || rec == nil {
		t.Fatalf("expected stored record, got %v %v", rec, err)
	}
	if rec.RegisteredAddress != goodAddress || rec.DepositAddress != depositAddress {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.UserID == "sender-1" {
		t.Fatal("raw sender id must not be stored")
	}
}

func TestRegisterTwiceKeepsOriginalRecord(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	h.send("register DOtherAddressxxxxxxxxxxxxxxxxxxxxx")
	if got := h.sink.last(t).text; got != "User already exists. Your deposit wallet is "+depositAddress {
		t.Fatalf("unexpected reply %q", got)
	}
	if h.store.Len() != 1 {
		t.Fatalf("expected one record, got %d", h.store.Len())
	}
	rec, _ := h.store.GetUser(context.Background(), SenderDigest("sender-1"))
	if rec.RegisteredAddress != goodAddress {
		t.Fatalf("registered address changed to %s", rec.RegisteredAddress)
	}
}

func TestRegisterMissingAddress(t *testing.T) {
	h := newHarness(t)
	h.send("register")

	if got := h.sink.last(t).text; got != "Missing wallet address." {
		t.Fatalf("unexpected reply %q", got)
	}
	if h.validator.calls != 0 || len(h.wallet.calls) != 0 {
		t.Fatal("expected no validation or wallet calls")
	}
}

func TestRegisterInvalidAddress(t *testing.T) {
	h := newHarness(t)
	h.validator.err = addrcheck.ErrInvalidAddress
	h.send("register Dbogus")

	if got := h.sink.last(t).text; got != "Invalid doge address." {
		t.Fatalf("unexpected reply %q", got)
	}
	if h.store.Len() != 0 || len(h.wallet.calls) != 0 {
		t.Fatal("expected no record and no wallet calls")
	}
}

func TestRegisterValidationUnavailable(t *testing.T) {
	h := newHarness(t)
	h.validator.err = errors.Join(addrcheck.ErrValidationUnavailable, errors.New("timeout"))
	h.send("register " + goodAddress)

	if got := h.sink.last(t).text; got != "There was an issue registering at this time, please try again later." {
		t.Fatalf("unexpected reply %q", got)
	}
	if h.store.Len() != 0 {
		t.Fatal("expected no record")
	}
}

func TestRegisterWalletFailureCreatesNothing(t *testing.T) {
	h := newHarness(t)
	h.wallet.depositErr = errors.New("rpc down")
	h.send("register " + goodAddress)

	if got := h.sink.last(t).text; !strings.Contains(got, "issue registering") {
		t.Fatalf("unexpected reply %q", got)
	}
	if h.store.Len() != 0 {
		t.Fatal("expected no record")
	}
}

func TestRegisterLosingRaceReportsDuplicate(t *testing.T) {
	h := newHarness(t)
	h.engine.store = &racingStore{}
	h.send("register " + goodAddress)

	if got := h.sink.last(t).text; !strings.HasPrefix(got, "User already exists.") {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestRegisterStoreFailureRepliesTryLater(t *testing.T) {
	h := newHarness(t)
	h.engine.store = &brokenCreateStore{}
	h.send("register " + goodAddress)

	if got := h.sink.last(t).text; got != "There was an issue registering at this time, please try again later." {
		t.Fatalf("unexpected reply %q", got)
	}
	if v := testutil.ToFloat64(h.metrics.Errors.WithLabelValues("store")); v != 1 {
		t.Fatalf("expected one store error, got %v", v)
	}
	if v := testutil.ToFloat64(h.metrics.WorkflowOutcomes.WithLabelValues("register", "store_error")); v != 1 {
		t.Fatalf("expected store_error outcome, got %v", v)
	}
}

func TestUnregisteredSenderGetsPrompt(t *testing.T) {
	for _, text := range []string{"withdraw 5 doge", "info", "history"} {
		h := newHarness(t)
		h.send(text)

		if got := h.sink.last(t).text; got != "You need to register, please try register <DogeCoin Address>" {
			t.Fatalf("%s: unexpected reply %q", text, got)
		}
		if len(h.wallet.calls) != 0 {
			t.Fatalf("%s: expected no wallet calls, got %v", text, h.wallet.calls)
		}
	}
}

func TestWithdrawBalanceBoundary(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	h.send("withdraw 10 doge")
	if got := h.sink.last(t).text; !strings.HasPrefix(got, "Successful withdraw of 10 DOGE") {
		t.Fatalf("unexpected reply %q", got)
	}
	if len(h.wallet.transfers) != 1 || h.wallet.destination != goodAddress {
		t.Fatalf("expected one transfer to registered address, got %v to %s", h.wallet.transfers, h.wallet.destination)
	}

	h.send("withdraw 10.0001 doge")
	if got := h.sink.last(t).text; got != "Not enough DOGE to withdraw." {
		t.Fatalf("unexpected reply %q", got)
	}
	if len(h.wallet.transfers) != 1 {
		t.Fatal("insufficient balance must not transfer")
	}
}

func TestWithdrawUpdatesLastMessage(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	h.send("withdraw 2 doge")

	rec, _ := h.store.GetUser(context.Background(), SenderDigest("sender-1"))
	if rec.LastMessageID != "m_withdraw 2 doge" {
		t.Fatalf("unexpected last message id %q", rec.LastMessageID)
	}
}

func TestWithdrawArgumentErrors(t *testing.T) {
	cases := map[string]string{
		"withdraw":           "Missing amount and currency type.",
		"withdraw 5":         "Invalid currency type or amount, please try again.",
		"withdraw -1 doge":   "Invalid currency type or amount, please try again.",
		"withdraw 5 bitcoin": "Invalid currency type or amount, please try again.",
		"withdraw 5 btc":     "Withdrawals in BTC are not supported yet, only DOGE.",
	}
	for text, want := range cases {
		h := newHarness(t)
		h.register(t)
		h.wallet.calls = nil

		h.send(text)
		if got := h.sink.last(t).text; got != want {
			t.Fatalf("%q: reply %q, want %q", text, got, want)
		}
		if len(h.wallet.calls) != 0 {
			t.Fatalf("%q: expected no wallet calls, got %v", text, h.wallet.calls)
		}
	}
}

func TestWithdrawRejectsExponentAmounts(t *testing.T) {
	for _, text := range []string{
		"withdraw 1e-400000000 doge",
		"withdraw 1e400000000 doge",
		"withdraw 0.000000001 doge",
	} {
		h := newHarness(t)
		h.register(t)
		h.wallet.calls = nil

		h.send(text)
		if got := h.sink.last(t).text; got != "Invalid currency type or amount, please try again." {
			t.Fatalf("%q: unexpected reply %q", text, got)
		}
		if len(h.wallet.calls) != 0 {
			t.Fatalf("%q: expected no wallet calls, got %v", text, h.wallet.calls)
		}
	}
}

func TestCheckCurrency(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.checkCurrency("DOGE"); err != nil {
		t.Fatalf("unexpected error for settlement coin: %v", err)
	}
	if err := h.engine.checkCurrency("BTC"); !errors.Is(err, ErrUnsupportedCurrency) {
		t.Fatalf("expected ErrUnsupportedCurrency, got %v", err)
	}
}

func TestWithdrawWalletRefusesCurrency(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	h.wallet.balanceErr = fmt.Errorf("%w: DOGE", wallet.ErrUnsupportedCoin)

	h.send("withdraw 1 doge")
	if got := h.sink.last(t).text; got != "Withdrawals in DOGE are not supported yet, only DOGE." {
		t.Fatalf("unexpected reply %q", got)
	}
	if len(h.wallet.transfers) != 0 {
		t.Fatal("refused currency must not transfer")
	}
}

func TestWithdrawWalletErrors(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	h.wallet.transferErr = wallet.ErrInsufficientFunds
	h.send("withdraw 1 doge")
	if got := h.sink.last(t).text; got != "Not enough DOGE to withdraw." {
		t.Fatalf("unexpected reply %q", got)
	}

	h.wallet.transferErr = errors.New("node unreachable")
	h.send("withdraw 1 doge")
	if got := h.sink.last(t).text; got != "There was an issue withdrawing at this time, please try again later." {
		t.Fatalf("unexpected reply %q", got)
	}

	h.wallet.transferErr = nil
	h.wallet.balanceErr = errors.New("node unreachable")
	h.send("withdraw 1 doge")
	if got := h.sink.last(t).text; !strings.Contains(got, "issue withdrawing") {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestInfoReturnsDepositAddress(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	h.send("info")

	if got := h.sink.last(t).text; got != "Deposit Address: "+depositAddress {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestHistory(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	h.send("history")
	if got := h.sink.last(t).text; got != "No transactions yet." {
		t.Fatalf("unexpected reply %q", got)
	}

	h.wallet.txs = []wallet.Transaction{
		{Category: "receive", Amount: decimal.NewFromInt(100), Address: depositAddress, Confirmations: 6, TxID: "abcdef0123456789"},
		{Category: "send", Amount: decimal.NewFromInt(-5), Address: goodAddress, Confirmations: 1, TxID: "fedcba"},
	}
	h.send("history")
	got := h.sink.last(t).text
	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus two lines, got %q", got)
	}
	if !strings.Contains(lines[1], "receive 100 DOGE") || !strings.Contains(lines[1], "abcdef0123") {
		t.Fatalf("unexpected first line %q", lines[1])
	}
	if !strings.Contains(lines[2], "send -5 DOGE") {
		t.Fatalf("unexpected second line %q", lines[2])
	}
}

func TestHistoryWalletFailureRepliesTryLater(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	h.wallet.historyErr = errors.New("rpc timeout")

	h.send("history")
	if got := h.sink.last(t).text; got != "There was an issue returning history at this time, please try again later." {
		t.Fatalf("unexpected reply %q", got)
	}
	if v := testutil.ToFloat64(h.metrics.Errors.WithLabelValues("wallet")); v != 1 {
		t.Fatalf("expected one wallet error, got %v", v)
	}
}

func TestStoreFailureRepliesTryLater(t *testing.T) {
	h := newHarness(t)
	h.engine.store = &failingStore{}

	h.send("info")
	if got := h.sink.last(t).text; got != "There was an issue returning your info at this time, please try again later." {
		t.Fatalf("unexpected reply %q", got)
	}
	if v := testutil.ToFloat64(h.metrics.Errors.WithLabelValues("store")); v != 1 {
		t.Fatalf("expected one store error, got %v", v)
	}
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)
	h.send("hello bot")

	if got := h.sink.last(t).text; got != "Invalid command, please try another." {
		t.Fatalf("unexpected reply %q", got)
	}
	if v := testutil.ToFloat64(h.metrics.Commands.WithLabelValues("unknown")); v != 1 {
		t.Fatalf("expected unknown command counted once, got %v", v)
	}
}

func TestMalformedMessageIsDropped(t *testing.T) {
	h := newHarness(t)
	h.engine.ProcessMessage(context.Background(), Message{Text: "info", SenderID: "sender-1"})
	h.engine.ProcessMessage(context.Background(), Message{Text: "info", ConversationID: "t_1"})

	if len(h.sink.replies) != 0 {
		t.Fatalf("expected no replies, got %d", len(h.sink.replies))
	}
}

func TestReplyFailureIsCounted(t *testing.T) {
	h := newHarness(t)
	h.sink.err = errors.New("graph api down")
	h.send("hello")

	if v := testutil.ToFloat64(h.metrics.OutgoingReplies.WithLabelValues("facebook", "error")); v != 1 {
		t.Fatalf("expected failed reply counted, got %v", v)
	}
}
