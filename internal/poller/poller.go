package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"doge-tipbot/internal/cache"
	"doge-tipbot/internal/convo"
	"doge-tipbot/internal/metrics"
)

// Inbox yields messages that have not been answered yet.
type Inbox interface {
	FetchUnread(ctx context.Context) ([]convo.Message, error)
}

// Processor runs the workflow for a single message.
type Processor interface {
	ProcessMessage(ctx context.Context, msg convo.Message)
}

// Config controls the polling cadence.
type Config struct {
	Interval    time.Duration
	Concurrency int
	SeenTTL     time.Duration
}

// Poller fetches unread messages on an interval and dispatches them with
// bounded concurrency.
//
// A message id seen within SeenTTL is not dispatched again. This narrows the
// window in which a slow reply lets the inbox return the same message twice;
// it is not an exactly-once guarantee.
type Poller struct {
	inbox     Inbox
	processor Processor
	redis     *cache.Redis
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       Config

	runMu sync.Mutex

	seenMu sync.Mutex
	seen   map[string]time.Time
	now    func() time.Time
}

// New constructs a Poller. redis may be nil, in which case seen ids are kept
// in process.
func New(inbox Inbox, processor Processor, redis *cache.Redis, metrics *metrics.Metrics, logger *slog.Logger, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.SeenTTL <= 0 {
		cfg.SeenTTL = 10 * time.Minute
	}
	return &Poller{
		inbox:     inbox,
		processor: processor,
		redis:     redis,
		metrics:   metrics,
		logger:    logger.With("component", "poller"),
		cfg:       cfg,
		seen:      make(map[string]time.Time),
		now:       time.Now,
	}
}

// Run polls until ctx is cancelled. Fetch failures are logged and retried on
// the next tick.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started", "interval", p.cfg.Interval.String(), "concurrency", p.cfg.Concurrency)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("poll cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single poll cycle and returns the number of messages
// dispatched. Concurrent callers are serialised.
func (p *Poller) RunOnce(ctx context.Context) (int, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	msgs, err := p.inbox.FetchUnread(ctx)
	if err != nil {
		if p.metrics != nil {
			p.metrics.Errors.WithLabelValues("poller").Inc()
		}
		return 0, fmt.Errorf("fetch unread: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	dispatched := 0
	for _, msg := range msgs {
		if !p.firstSighting(ctx, msg) {
			p.logger.Debug("skipping message already dispatched", "message_id", msg.MessageID)
			continue
		}
		dispatched++
		g.Go(func() error {
			p.processor.ProcessMessage(gctx, msg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return dispatched, err
	}
	if dispatched > 0 {
		p.logger.Info("poll cycle complete", "fetched", len(msgs), "dispatched", dispatched)
	}
	return dispatched, nil
}

func (p *Poller) firstSighting(ctx context.Context, msg convo.Message) bool {
	id := msg.MessageID
	if id == "" {
		// Without a message id only the conversation and text identify it.
		id = msg.ConversationID + ":" + msg.Text
	}
	key := "seen:" + msg.Source + ":" + id

	if p.redis != nil {
		first, err := p.redis.MarkOnce(ctx, key, p.cfg.SeenTTL)
		if err == nil {
			return first
		}
		p.logger.Warn("seen guard unavailable, using local set", "error", err)
	}

	p.seenMu.Lock()
	defer p.seenMu.Unlock()
	now := p.now()
	for k, at := range p.seen {
		if now.Sub(at) > p.cfg.SeenTTL {
			delete(p.seen, k)
		}
	}
	if _, ok := p.seen[key]; ok {
		return false
	}
	p.seen[key] = now
	return true
}
