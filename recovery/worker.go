// Package recovery re-drives enlisted transactions until the participant
// reports the outcome the coordinator asked for.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"lra"
	"lra/event"
	"lra/lock"
	"lra/logging"
	"lra/metrics"
)

// Participant is the part of lra.Machine the worker drives.
type Participant interface {
	Name() string
	Complete(ctx context.Context, txID string) (*lra.Future, error)
	Compensate(ctx context.Context, txID string) (*lra.Future, error)
	Status(ctx context.Context, txID string) (lra.ParticipantStatus, error)
}

var _ Participant = (*lra.Machine)(nil)

// Intent is the outcome a transaction was enlisted for.
type Intent int

const (
	IntentComplete Intent = iota
	IntentCompensate
)

func (i Intent) String() string {
	if i == IntentCompensate {
		return "compensate"
	}
	return "complete"
}

// settled reports whether status ends recovery for the intent. A compensate
// intent is not settled by Completed, which the participant reports while its
// compensation is still running.
func (i Intent) settled(status lra.ParticipantStatus) bool {
	if i == IntentCompensate {
		return status == lra.StatusCompensated || status == lra.StatusFailedToCompensate
	}
	return lra.IsTerminal(status)
}

// Config holds the configuration for the recovery worker.
type Config struct {
	// RecoveryInterval is the interval between recovery scans.
	RecoveryInterval time.Duration
	// LockTTL is the TTL of the per-transaction recovery lock.
	LockTTL time.Duration
	// MaxPasses abandons a transaction after this many passes. Zero means
	// no limit.
	MaxPasses int
}

// DefaultConfig returns the default configuration for the recovery worker.
func DefaultConfig() Config {
	return Config{
		RecoveryInterval: 30 * time.Second,
		LockTTL:          30 * time.Second,
		MaxPasses:        10,
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.RecoveryInterval <= 0 {
		return fmt.Errorf("%w: recovery interval must be positive", lra.ErrInvalidConfig)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("%w: lock ttl must be positive", lra.ErrInvalidConfig)
	}
	if c.MaxPasses < 0 {
		return fmt.Errorf("%w: max passes cannot be negative", lra.ErrInvalidConfig)
	}
	return nil
}

// enlistment is one transaction under recovery.
type enlistment struct {
	txID     string
	intent   Intent
	passes   int
	enlisted time.Time
}

// Outcome is how recovery of a transaction ended.
type Outcome struct {
	TxID      string
	Intent    Intent
	Status    lra.ParticipantStatus
	Passes    int
	Abandoned bool
}

// Worker periodically polls enlisted transactions and resends the intended
// request until the participant settles them.
type Worker struct {
	participant Participant
	locker      lock.Locker
	counter     *Counter
	events      event.EventBus
	metrics     metrics.Metrics
	config      Config
	logger      logging.Logger

	// State
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex

	txMu     sync.Mutex
	enlisted map[string]*enlistment
	retired  map[string]Outcome

	// Metrics
	scannedCount   int64
	processedCount int64
	failedCount    int64
	convergedCount int64
	metricsMu      sync.RWMutex
}

// WorkerOption is a function that configures the Worker.
type WorkerOption func(*Worker)

// WithLocker sets the locker for the worker.
func WithLocker(l lock.Locker) WorkerOption {
	return func(w *Worker) {
		w.locker = l
	}
}

// WithCounter sets the pass expectation compared on convergence.
func WithCounter(c *Counter) WorkerOption {
	return func(w *Worker) {
		w.counter = c
	}
}

// WithEventBus sets the event bus for the worker.
func WithEventBus(e event.EventBus) WorkerOption {
	return func(w *Worker) {
		w.events = e
	}
}

// WithMetrics sets the metrics sink for the worker.
func WithMetrics(m metrics.Metrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithConfig sets the configuration for the worker.
func WithConfig(cfg Config) WorkerOption {
	return func(w *Worker) {
		w.config = cfg
	}
}

// WithLogger sets the logger for the worker.
func WithLogger(l logging.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = l
	}
}

// NewWorker creates a recovery worker driving p.
func NewWorker(p Participant, opts ...WorkerOption) (*Worker, error) {
	w := &Worker{
		participant: p,
		config:      DefaultConfig(),
		stopCh:      make(chan struct{}),
		enlisted:    make(map[string]*enlistment),
		retired:     make(map[string]Outcome),
	}

	for _, opt := range opts {
		opt(w)
	}

	if err := w.config.Validate(); err != nil {
		return nil, err
	}
	if w.locker == nil {
		w.locker = lock.NewMemoryLocker()
	}
	if w.counter == nil {
		w.counter = &Counter{}
	}
	if w.metrics == nil {
		w.metrics = &metrics.NoopMetrics{}
	}
	if w.logger == nil {
		w.logger = logging.Default()
	}
	w.logger = logging.Named(w.logger, "recovery:"+p.Name())

	return w, nil
}

// Counter returns the pass expectation the worker reports against.
func (w *Worker) Counter() *Counter {
	return w.counter
}

// Enlist puts txID under recovery with the given intent. Enlisting a
// transaction again replaces its intent and keeps its pass count; a settled
// transaction starts over.
func (w *Worker) Enlist(txID string, intent Intent) error {
	if txID == "" {
		return fmt.Errorf("%w: empty transaction id", lra.ErrInvalidRequest)
	}

	w.txMu.Lock()
	defer w.txMu.Unlock()

	if en, ok := w.enlisted[txID]; ok {
		en.intent = intent
		return nil
	}
	delete(w.retired, txID)
	w.enlisted[txID] = &enlistment{txID: txID, intent: intent, enlisted: time.Now()}
	return nil
}

// Forget drops txID from the worker.
func (w *Worker) Forget(txID string) {
	w.txMu.Lock()
	defer w.txMu.Unlock()
	delete(w.enlisted, txID)
	delete(w.retired, txID)
}

// Enlisted returns the transactions still under recovery, oldest first.
func (w *Worker) Enlisted() []string {
	w.txMu.Lock()
	defer w.txMu.Unlock()
	return w.order()
}

// Passes returns the recovery passes spent on txID so far.
func (w *Worker) Passes(txID string) (int, bool) {
	w.txMu.Lock()
	defer w.txMu.Unlock()
	if en, ok := w.enlisted[txID]; ok {
		return en.passes, true
	}
	if out, ok := w.retired[txID]; ok {
		return out.Passes, true
	}
	return 0, false
}

// Outcome returns how recovery of txID ended, if it has.
func (w *Worker) Outcome(txID string) (Outcome, bool) {
	w.txMu.Lock()
	defer w.txMu.Unlock()
	out, ok := w.retired[txID]
	return out, ok
}

// Start starts the recovery worker.
// It runs in the background and periodically scans the enlisted transactions.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("recovery worker already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Printf("started with interval=%v, maxPasses=%d", w.config.RecoveryInterval, w.config.MaxPasses)
	return nil
}

// Stop stops the recovery worker gracefully.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Printf("stopped")
}

// IsRunning returns true if the worker is running.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.RecoveryInterval)
	defer ticker.Stop()

	w.scan(ctx)

	for {
		select {
		case <-ticker.C:
			w.scan(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ScanOnce runs a single scan synchronously.
func (w *Worker) ScanOnce(ctx context.Context) {
	w.scan(ctx)
}

func (w *Worker) scan(ctx context.Context) {
	w.txMu.Lock()
	ids := w.order()
	w.txMu.Unlock()

	if len(ids) == 0 {
		return
	}

	w.publishEvent(ctx, event.NewEvent(event.EventRecoveryStart).
		WithParticipant(w.participant.Name()).
		WithData("enlisted", len(ids)))
	w.incrementScanned(int64(len(ids)))
	w.metrics.RecoveryScanned(len(ids))

	for _, txID := range ids {
		if ctx.Err() != nil {
			return
		}
		w.recoverTransaction(ctx, txID)
	}
}

// recoverTransaction runs one pass over txID: poll its status, retire it when
// settled, otherwise resend the intended request.
func (w *Worker) recoverTransaction(ctx context.Context, txID string) {
	lease, err := w.locker.TryLock(ctx, "recovery:"+txID, w.config.LockTTL)
	if err != nil {
		if !errors.Is(err, lock.ErrLocked) {
			w.logger.Printf("tx %s: recovery lock failed: %v", txID, err)
			w.incrementFailed()
		}
		return
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			w.logger.Printf("tx %s: release recovery lock: %v", txID, err)
		}
	}()

	w.txMu.Lock()
	en, ok := w.enlisted[txID]
	if !ok {
		w.txMu.Unlock()
		return
	}
	en.passes++
	intent, passes := en.intent, en.passes
	w.txMu.Unlock()

	name := w.participant.Name()
	w.metrics.RecoveryPass(name)
	w.publishEvent(ctx, event.NewEvent(event.EventRecoveryPass).
		WithTxID(txID).
		WithParticipant(name).
		WithData("intent", intent.String()).
		WithData("pass", passes))

	status, err := w.participant.Status(ctx, txID)
	if err != nil {
		w.fail(ctx, txID, "status query", err)
		return
	}

	if intent.settled(status) {
		w.retire(ctx, Outcome{TxID: txID, Intent: intent, Status: status, Passes: passes})
		return
	}

	if w.config.MaxPasses > 0 && passes >= w.config.MaxPasses {
		w.logger.Printf("tx %s exceeded max passes (%d), status=%s", txID, w.config.MaxPasses, status)
		w.incrementFailed()
		w.retire(ctx, Outcome{TxID: txID, Intent: intent, Status: status, Passes: passes, Abandoned: true})
		return
	}

	if intent == IntentCompensate {
		_, err = w.participant.Compensate(ctx, txID)
	} else {
		_, err = w.participant.Complete(ctx, txID)
	}
	if err != nil {
		w.fail(ctx, txID, intent.String()+" resend", err)
		return
	}

	w.incrementProcessed()
	w.logger.Printf("tx %s: pass %d resent %s (status=%s)", txID, passes, intent, status)
}

func (w *Worker) retire(ctx context.Context, out Outcome) {
	w.txMu.Lock()
	delete(w.enlisted, out.TxID)
	w.retired[out.TxID] = out
	w.txMu.Unlock()

	name := w.participant.Name()
	if out.Abandoned {
		w.publishEvent(ctx, event.NewEvent(event.EventAlertCritical).
			WithTxID(out.TxID).
			WithParticipant(name).
			WithStatus(out.Status.String()).
			WithData("message", fmt.Sprintf("transaction %s abandoned after %d recovery passes", out.TxID, out.Passes)).
			WithData("passes", out.Passes))
		return
	}

	w.incrementConverged()
	w.metrics.RecoveryConverged(name, out.Passes)
	expected := w.counter.Accepted()
	w.logger.Printf("tx %s converged to %s after %d passes (expected %d)", out.TxID, out.Status, out.Passes, expected)
	w.publishEvent(ctx, event.NewEvent(event.EventRecoveryConverged).
		WithTxID(out.TxID).
		WithParticipant(name).
		WithStatus(out.Status.String()).
		WithData("passes", out.Passes).
		WithData("expected", expected).
		WithData("satisfied", w.counter.Satisfied(out.Passes)))
}

func (w *Worker) fail(ctx context.Context, txID, op string, err error) {
	w.logger.Printf("tx %s: %s failed: %v", txID, op, err)
	w.incrementFailed()
	w.publishEvent(ctx, event.NewEvent(event.EventAlertWarning).
		WithTxID(txID).
		WithParticipant(w.participant.Name()).
		WithData("message", fmt.Sprintf("recovery %s failed: %v", op, err)).
		WithError(err))
}

// order returns enlisted ids oldest first. Callers hold txMu.
func (w *Worker) order() []string {
	list := make([]*enlistment, 0, len(w.enlisted))
	for _, en := range w.enlisted {
		list = append(list, en)
	}
	slices.SortFunc(list, func(a, b *enlistment) int {
		if c := a.enlisted.Compare(b.enlisted); c != 0 {
			return c
		}
		return strings.Compare(a.txID, b.txID)
	})
	ids := make([]string, len(list))
	for i, en := range list {
		ids[i] = en.txID
	}
	return ids
}

// publishEvent publishes an event to the event bus.
func (w *Worker) publishEvent(ctx context.Context, e event.Event) {
	if w.events != nil {
		w.events.Publish(ctx, e)
	}
}

// Metrics methods

func (w *Worker) incrementScanned(count int64) {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	w.scannedCount += count
}

func (w *Worker) incrementProcessed() {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	w.processedCount++
}

func (w *Worker) incrementFailed() {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	w.failedCount++
}

func (w *Worker) incrementConverged() {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	w.convergedCount++
}

// Stats holds the counters of the recovery worker.
type Stats struct {
	ScannedCount   int64
	ProcessedCount int64
	FailedCount    int64
	ConvergedCount int64
	Enlisted       int
	IsRunning      bool
}

// Stats returns the current statistics of the recovery worker.
func (w *Worker) Stats() Stats {
	w.txMu.Lock()
	enlisted := len(w.enlisted)
	w.txMu.Unlock()

	w.metricsMu.RLock()
	defer w.metricsMu.RUnlock()
	return Stats{
		ScannedCount:   w.scannedCount,
		ProcessedCount: w.processedCount,
		FailedCount:    w.failedCount,
		ConvergedCount: w.convergedCount,
		Enlisted:       enlisted,
		IsRunning:      w.IsRunning(),
	}
}

// ResetStats resets the statistics counters.
func (w *Worker) ResetStats() {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	w.scannedCount = 0
	w.processedCount = 0
	w.failedCount = 0
	w.convergedCount = 0
}
