package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/carepulse/notify/internal/backoff"
	"github.com/carepulse/notify/internal/breaker"
	"github.com/carepulse/notify/internal/domain"
	"github.com/carepulse/notify/internal/event"
	"github.com/carepulse/notify/internal/queue"
	"github.com/carepulse/notify/internal/ratelimiter"
	"github.com/carepulse/notify/internal/repository"
	"github.com/carepulse/notify/internal/retry"
	"github.com/carepulse/notify/internal/sender"
)

// Hooks carries the metric callbacks injected by main so the dispatcher
// stays metrics-agnostic.
type Hooks struct {
	OnSent     func(channel domain.Channel, latency time.Duration)
	OnFailed   func(channel domain.Channel)
	OnRequeued func(channel domain.Channel)
	OnDepths   func(depths map[domain.Priority]int)
}

func (h *Hooks) fillDefaults() {
	if h.OnSent == nil {
		h.OnSent = func(domain.Channel, time.Duration) {}
	}
	if h.OnFailed == nil {
		h.OnFailed = func(domain.Channel) {}
	}
	if h.OnRequeued == nil {
		h.OnRequeued = func(domain.Channel) {}
	}
	if h.OnDepths == nil {
		h.OnDepths = func(map[domain.Priority]int) {}
	}
}

// Config tunes the dispatch loop.
type Config struct {
	// PollInterval is the drain tick. Default 1s.
	PollInterval time.Duration

	// BatchSize caps items taken per tick across all lanes. Default 64.
	BatchSize int

	// RequeueDelay is how long an item denied by the breaker or a
	// capacity guard waits before its next consideration. Default 5s.
	RequeueDelay time.Duration

	// RescheduleBase seeds the exponential backoff applied between
	// notification-level delivery attempts. Default 5s.
	RescheduleBase time.Duration

	// StrategyByChannel selects the retry strategy per channel;
	// missing channels fall back to "standard".
	StrategyByChannel map[domain.Channel]string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.RequeueDelay <= 0 {
		c.RequeueDelay = 5 * time.Second
	}
	if c.RescheduleBase <= 0 {
		c.RescheduleBase = 5 * time.Second
	}
	return c
}

// Dispatcher drains the priority lanes on a fixed tick and pushes each due
// item through rate limiting, the per-dependency circuit breaker, and the
// retry executor. Every per-item failure is caught and reflected on the
// notification; nothing escapes the poll loop.
type Dispatcher struct {
	cfg      Config
	q        *queue.Set
	repo     repository.NotificationRepository
	senders  *sender.Registry
	renderer sender.Renderer // nil when template rendering is not configured
	limiter  *ratelimiter.Limiter
	pacer    *ratelimiter.ChannelPacer
	breakers *breaker.Registry
	executor *retry.Executor
	bus      *event.Bus
	logger   *zap.Logger
	hooks    Hooks
}

func NewDispatcher(
	cfg Config,
	q *queue.Set,
	repo repository.NotificationRepository,
	senders *sender.Registry,
	renderer sender.Renderer,
	limiter *ratelimiter.Limiter,
	pacer *ratelimiter.ChannelPacer,
	breakers *breaker.Registry,
	executor *retry.Executor,
	bus *event.Bus,
	logger *zap.Logger,
	hooks Hooks,
) *Dispatcher {
	hooks.fillDefaults()
	return &Dispatcher{
		cfg:      cfg.withDefaults(),
		q:        q,
		repo:     repo,
		senders:  senders,
		renderer: renderer,
		limiter:  limiter,
		pacer:    pacer,
		breakers: breakers,
		executor: executor,
		bus:      bus,
		logger:   logger,
		hooks:    hooks,
	}
}

// Run blocks until ctx is cancelled, draining due items once per tick.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.logger.Info("dispatcher started", zap.Duration("interval", d.cfg.PollInterval))

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			d.Poll(ctx)
		}
	}
}

// Poll drains one batch. Exported so tests can drive the loop directly.
func (d *Dispatcher) Poll(ctx context.Context) {
	items := d.q.PopDue(time.Now(), d.cfg.BatchSize)
	for _, it := range items {
		d.process(ctx, it)
		if ctx.Err() != nil {
			return
		}
	}
	d.hooks.OnDepths(d.q.Depths())
}

func (d *Dispatcher) process(ctx context.Context, it queue.Item) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch panicked",
				zap.String("notification_id", it.NotificationID), zap.Any("panic", r))
		}
	}()

	start := time.Now()
	log := d.logger.With(
		zap.String("notification_id", it.NotificationID),
		zap.String("channel", string(it.Channel)),
	)

	n, err := d.repo.GetByID(ctx, it.NotificationID)
	if err != nil {
		log.Error("failed to fetch notification", zap.Error(err))
		return
	}

	// A cancellation between enqueue and processing time is valid; skip
	// silently and let the record stay cancelled.
	if n.Status == domain.StatusCancelled {
		log.Debug("notification was cancelled before processing")
		return
	}

	// Rate limiting is not a failure: the item goes back untouched and is
	// reconsidered on a later tick.
	if !d.limiter.Allow(ctx, ratelimiter.Key(string(n.Channel), n.Recipient)) {
		log.Debug("rate limited, deferring")
		d.requeue(n, it, time.Now().Add(d.cfg.RequeueDelay))
		return
	}

	if err := d.repo.UpdateStatus(ctx, n.ID, domain.StatusProcessing); err != nil {
		log.Error("failed to mark as processing", zap.Error(err))
		return
	}

	// Pace provider calls per channel before spending a send.
	if err := d.pacer.Wait(ctx, n.Channel); err != nil {
		// ctx cancelled while waiting, dispatcher is shutting down.
		d.release(n)
		return
	}

	err = d.deliver(ctx, n)
	elapsed := time.Since(start)

	if err != nil {
		d.handleFailure(ctx, it, n, err, elapsed)
		return
	}

	d.q.RecordResult(n.Priority, true, elapsed)
	d.hooks.OnSent(n.Channel, elapsed)
	d.bus.Publish(event.Event{
		Topic:          event.TopicSent,
		NotificationID: n.ID,
		Channel:        n.Channel,
	})
	log.Info("notification sent", zap.Duration("latency", elapsed), zap.Int("attempts", n.Attempts+1))
}

// deliver renders the content if needed and runs the channel send under the
// breaker and the retry executor. On success it persists the sent state.
func (d *Dispatcher) deliver(ctx context.Context, n *domain.Notification) error {
	if n.Content.Template != "" && n.Content.Text == "" && n.Content.HTML == "" {
		if d.renderer == nil {
			return &domain.PermanentError{Err: fmt.Errorf("template %q requested but no renderer configured", n.Content.Template)}
		}
		html, text, err := d.renderer.Render(n.Content.Template, n.Content.Data)
		if err != nil {
			return &domain.PermanentError{Err: fmt.Errorf("render template %q: %w", n.Content.Template, err)}
		}
		n.Content.HTML, n.Content.Text = html, text
	}

	snd, err := d.senders.Get(n.Channel)
	if err != nil {
		return err
	}

	br := d.breakers.Get("sender:" + string(n.Channel))

	var resp *sender.Response
	op := func(ctx context.Context) error {
		return br.Do(ctx, func(ctx context.Context) error {
			r, err := snd.Send(ctx, n)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
	}

	if _, err := d.executor.Execute(ctx, d.strategyFor(n.Channel), op); err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := d.repo.MarkSent(ctx, n.ID, resp.ProviderMsgID, now, resp.Delivered); err != nil {
		d.logger.Error("failed to mark as sent", zap.String("id", n.ID), zap.Error(err))
	}
	return nil
}

// handleFailure classifies the delivery error and either defers, reschedules
// with exponential backoff, or marks the notification permanently failed.
func (d *Dispatcher) handleFailure(ctx context.Context, it queue.Item, n *domain.Notification, sendErr error, elapsed time.Duration) {
	log := d.logger.With(zap.String("notification_id", n.ID))

	// Breaker and capacity rejections never consumed a real attempt:
	// the item waits out the guard and is reconsidered.
	var open *domain.CircuitOpenError
	var capacity *domain.CapacityError
	if errors.As(sendErr, &open) || errors.As(sendErr, &capacity) {
		log.Debug("delivery deferred by guard", zap.Error(sendErr))
		d.release(n)
		d.requeue(n, it, time.Now().Add(d.cfg.RequeueDelay))
		d.hooks.OnRequeued(n.Channel)
		return
	}

	// Shutdown mid-delivery: return the item to the queue so a restart
	// picks it up; the abort is not a delivery failure.
	var aborted *domain.AbortedError
	if errors.As(sendErr, &aborted) {
		d.release(n)
		d.requeue(n, it, time.Time{})
		return
	}

	attempts := n.Attempts + 1
	derr := domain.DeliveryError{
		Attempt: attempts,
		At:      time.Now().UTC(),
		Message: sendErr.Error(),
	}

	if attempts >= n.MaxAttempts || !domain.IsRetryable(sendErr) {
		log.Warn("notification failed permanently",
			zap.Int("attempts", attempts), zap.Error(sendErr))
		if err := d.repo.MarkFailed(ctx, n.ID, attempts, derr); err != nil {
			log.Error("failed to mark notification failed", zap.Error(err))
		}
		d.q.RecordResult(n.Priority, false, elapsed)
		d.hooks.OnFailed(n.Channel)
		d.bus.Publish(event.Event{
			Topic:          event.TopicFailed,
			NotificationID: n.ID,
			Channel:        n.Channel,
			Detail:         sendErr.Error(),
		})
		if attempts >= n.MaxAttempts && domain.IsRetryable(sendErr) {
			d.bus.Publish(event.Event{
				Topic:          event.TopicRetryExhausted,
				NotificationID: n.ID,
				Channel:        n.Channel,
				Detail:         sendErr.Error(),
			})
		}
		return
	}

	// Retryable with attempts remaining: back off proportionally to the
	// attempt count and return to the lane as a future-due item.
	delay := backoff.Calculator{
		Kind: backoff.Exponential,
		Base: d.cfg.RescheduleBase,
	}.Delay(attempts)
	nextRetry := time.Now().UTC().Add(delay)

	log.Warn("delivery attempt failed, rescheduling",
		zap.Int("attempt", attempts),
		zap.Time("next_retry_at", nextRetry),
		zap.Error(sendErr),
	)
	if err := d.repo.ScheduleRetry(ctx, n.ID, attempts, nextRetry, derr); err != nil {
		log.Error("failed to schedule retry", zap.Error(err))
	}
	n.Attempts = attempts
	d.requeue(n, it, nextRetry)
	d.hooks.OnRequeued(n.Channel)
}

// release returns a notification that never got a real delivery attempt to
// the queued state. Uses a fresh context so shutdown cancellation cannot
// strand items in processing.
func (d *Dispatcher) release(n *domain.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.repo.UpdateStatus(ctx, n.ID, domain.StatusQueued); err != nil {
		d.logger.Error("failed to release notification",
			zap.String("id", n.ID), zap.Error(err))
	}
}

// requeue returns the item to its lane. A full lane would otherwise drop the
// item while the repository still says queued, so enqueue failure is made
// terminal: the stored status must reflect that nothing will deliver it.
func (d *Dispatcher) requeue(n *domain.Notification, it queue.Item, dueAt time.Time) {
	it.DueAt = dueAt
	err := d.q.Enqueue(it)
	if err == nil {
		return
	}
	d.logger.Error("could not requeue item, failing notification",
		zap.String("notification_id", it.NotificationID), zap.Error(err))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	derr := domain.DeliveryError{
		Attempt: n.Attempts,
		At:      time.Now().UTC(),
		Message: "requeue failed: " + err.Error(),
	}
	if mErr := d.repo.MarkFailed(ctx, n.ID, n.Attempts, derr); mErr != nil {
		d.logger.Error("failed to mark unrequeueable notification failed",
			zap.String("notification_id", n.ID), zap.Error(mErr))
		return
	}
	d.hooks.OnFailed(n.Channel)
	d.bus.Publish(event.Event{
		Topic:          event.TopicFailed,
		NotificationID: n.ID,
		Channel:        n.Channel,
		Detail:         derr.Message,
	})
}

func (d *Dispatcher) strategyFor(ch domain.Channel) string {
	if name, ok := d.cfg.StrategyByChannel[ch]; ok {
		return name
	}
	return "standard"
}
