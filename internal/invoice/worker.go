// Package invoice generates settlement documents off the session path.
package invoice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrQueueFull = errors.New("invoice: queue full")
	ErrStopped   = errors.New("invoice: worker stopped")
)

// Renderer produces a document for a transaction and returns its reference.
type Renderer interface {
	Render(ctx context.Context, transactionID string) (string, error)
}

// Attacher records a document reference on a transaction.
type Attacher interface {
	AttachInvoice(ctx context.Context, transactionID, ref string) error
}

type AttachFunc func(ctx context.Context, transactionID, ref string) error

func (f AttachFunc) AttachInvoice(ctx context.Context, transactionID, ref string) error {
	return f(ctx, transactionID, ref)
}

type Metrics interface {
	InvoiceGenerated()
	InvoiceFailed()
}

type Config struct {
	Workers     int
	MaxAttempts int
	QueueSize   int
	BaseDelay   time.Duration

	// AttemptTimeout bounds one render+attach.
	AttemptTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 30 * time.Second
	}
	return c
}

// Worker is a bounded pool that renders and attaches invoices with
// exponential backoff between attempts. Failures never reach the caller of
// Enqueue; exhausted jobs are logged and counted.
type Worker struct {
	cfg      Config
	renderer Renderer
	attacher Attacher
	metrics  Metrics
	log      *slog.Logger

	mu      sync.RWMutex
	queue   chan string
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewWorker(cfg Config, renderer Renderer, attacher Attacher, metrics Metrics, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	cfg = cfg.withDefaults()
	return &Worker{
		cfg:      cfg,
		renderer: renderer,
		attacher: attacher,
		metrics:  metrics,
		log:      log.With("component", "invoice"),
		queue:    make(chan string, cfg.QueueSize),
	}
}

// Start launches the pool. Only Stop ends it: cancelling ctx does not, so a
// signal context can be passed and queued jobs still drain at shutdown.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for id := range w.queue {
				w.process(ctx, id)
			}
		}()
	}
}

// Enqueue schedules transactionID without blocking.
func (w *Worker) Enqueue(transactionID string) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return ErrStopped
	}
	select {
	case w.queue <- transactionID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new jobs, lets queued ones drain and waits for the pool.
// Jobs still backing off when ctx expires are abandoned.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.queue)
	cancel := w.cancel
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if cancel != nil {
			cancel()
		}
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
		return ctx.Err()
	}
}

func (w *Worker) process(ctx context.Context, transactionID string) {
	log := w.log.With("transaction_id", transactionID)
	delay := w.cfg.BaseDelay

	var err error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		if err = w.attempt(ctx, transactionID); err == nil {
			w.metrics.InvoiceGenerated()
			log.Info("invoice attached", "attempt", attempt)
			return
		}
		log.Warn("invoice attempt failed", "attempt", attempt, "err", err)
		if attempt == w.cfg.MaxAttempts {
			break
		}

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			w.metrics.InvoiceFailed()
			log.Error("invoice abandoned", "err", ctx.Err())
			return
		}
		delay *= 2
	}
	w.metrics.InvoiceFailed()
	log.Error("invoice generation exhausted", "attempts", w.cfg.MaxAttempts, "err", err)
}

func (w *Worker) attempt(ctx context.Context, transactionID string) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.AttemptTimeout)
	defer cancel()

	ref, err := w.renderer.Render(ctx, transactionID)
	if err != nil {
		return err
	}
	return w.attacher.AttachInvoice(ctx, transactionID, ref)
}

type noopMetrics struct{}

func (noopMetrics) InvoiceGenerated() {}
func (noopMetrics) InvoiceFailed()    {}
