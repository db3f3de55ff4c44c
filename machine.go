package lra

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"lra/deferred"
	"lra/event"
	"lra/idempotency"
	"lra/logging"
	"lra/metrics"
	"lra/recorder"
	"lra/tracing"

	"go.opentelemetry.io/otel/attribute"
)

// Machine is the participant side of the saga protocol. It accepts complete
// and compensate requests per transaction, runs the business effect later on
// a deferred worker and answers status truthfully while that work is in flight.
//
// Each transaction has two independent legs, completion and compensation.
// A leg is created by its first request and never again; repeated requests
// share the first request's Future.
type Machine struct {
	// Dependencies
	participant Participant
	executor    *deferred.Executor
	recorder    recorder.Recorder
	checker     idempotency.Checker
	events      event.EventBus
	metrics     metrics.Metrics
	tracer      tracing.Tracer
	logger      logging.Logger

	ownsExecutor bool

	// Configuration
	config Config
	name   string

	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool
}

// entry is the state of one transaction.
type entry struct {
	txID    string
	created time.Time

	mu   sync.Mutex
	legs [2]*leg
}

// leg is one half of a transaction's lifecycle.
type leg struct {
	kind        Leg
	status      ParticipantStatus
	future      *Future
	handle      *deferred.Handle
	requestedAt time.Time
	finishedAt  time.Time
	duplicates  int
	replayed    bool
}

// MachineOption is a function that configures the Machine.
type MachineOption func(*Machine)

// WithExecutor sets a shared executor. The machine does not close it.
func WithExecutor(e *deferred.Executor) MachineOption {
	return func(m *Machine) {
		m.executor = e
	}
}

// WithRecorder sets the metric recorder consulted by Status.
func WithRecorder(r recorder.Recorder) MachineOption {
	return func(m *Machine) {
		m.recorder = r
	}
}

// WithChecker sets the idempotency checker used to replay terminal outcomes.
func WithChecker(ch idempotency.Checker) MachineOption {
	return func(m *Machine) {
		m.checker = ch
	}
}

// WithEventBus sets the event bus for lifecycle events.
func WithEventBus(e event.EventBus) MachineOption {
	return func(m *Machine) {
		m.events = e
	}
}

// WithMetrics sets the observability metrics.
func WithMetrics(mt metrics.Metrics) MachineOption {
	return func(m *Machine) {
		m.metrics = mt
	}
}

// WithTracer sets the tracer.
func WithTracer(t tracing.Tracer) MachineOption {
	return func(m *Machine) {
		m.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) MachineOption {
	return func(m *Machine) {
		m.logger = l
	}
}

// WithOptions applies configuration options.
func WithOptions(opts ...Option) MachineOption {
	return func(m *Machine) {
		for _, opt := range opts {
			opt(&m.config)
		}
	}
}

// NewMachine creates a state machine for participant p. A nil participant
// has no business effects. The participant's Name, when set, overrides
// Config.Participant as the machine identity.
func NewMachine(p Participant, opts ...MachineOption) (*Machine, error) {
	m := &Machine{
		participant: p,
		config:      DefaultConfig(),
		entries:     make(map[string]*entry),
	}
	if p != nil && p.Name() != "" {
		m.config.Participant = p.Name()
	}

	for _, opt := range opts {
		opt(m)
	}

	if err := m.config.Validate(); err != nil {
		return nil, err
	}
	m.name = m.config.Participant

	if m.executor == nil {
		m.executor = deferred.New()
		m.ownsExecutor = true
	}
	if m.recorder == nil {
		m.recorder = recorder.NewMemoryRecorder()
	}
	if m.events == nil {
		m.events = event.NewNoOpEventBus()
	}
	if m.metrics == nil {
		m.metrics = &metrics.NoopMetrics{}
	}
	if m.tracer == nil {
		m.tracer = &tracing.NoopTracer{}
	}
	if m.logger == nil {
		m.logger = logging.Nop()
	}
	m.logger = logging.Named(m.logger, "participant:"+m.name)

	return m, nil
}

// Name returns the participant identity.
func (m *Machine) Name() string {
	return m.name
}

// Config returns the machine configuration.
func (m *Machine) Config() Config {
	return m.config
}

// Recorder returns the metric recorder.
func (m *Machine) Recorder() recorder.Recorder {
	return m.recorder
}

// Complete accepts a completion request and returns without waiting for the
// completion work.
func (m *Machine) Complete(ctx context.Context, txID string) (*Future, error) {
	return m.request(ctx, LegComplete, txID)
}

// Compensate accepts a compensation request and returns without waiting for
// the compensation work.
func (m *Machine) Compensate(ctx context.Context, txID string) (*Future, error) {
	return m.request(ctx, LegCompensate, txID)
}

func (m *Machine) request(ctx context.Context, kind Leg, txID string) (*Future, error) {
	ctx, span := m.tracer.StartRequest(ctx, m.name, txID, kind.String())
	defer span.End()

	if txID == "" {
		m.metrics.RequestRejected(m.name, "invalid_request")
		err := fmt.Errorf("%w: empty transaction id", ErrInvalidRequest)
		span.SetError(err)
		return nil, err
	}

	e, err := m.entry(txID)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	e.mu.Lock()
	if l := e.legs[kind]; l != nil {
		m.duplicate(ctx, span, e, l)
		e.mu.Unlock()
		return l.future, nil
	}
	e.mu.Unlock()

	// The durable lookup runs outside the entry lock. A request for the same
	// leg that wins the race meanwhile makes this one a duplicate.
	status, replayed := m.replay(ctx, kind, txID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if l := e.legs[kind]; l != nil {
		m.duplicate(ctx, span, e, l)
		return l.future, nil
	}

	if replayed {
		l := &leg{
			kind:        kind,
			status:      status,
			future:      resolvedFuture(txID, kind, status),
			requestedAt: time.Now(),
			finishedAt:  time.Now(),
			replayed:    true,
		}
		e.legs[kind] = l
		span.AddEvent("replayed")
		m.logger.Printf("tx %s: %s answered from idempotency record (%s)", txID, kind, status)
		m.publish(ctx, event.NewEvent(event.EventReplayed).
			WithTxID(txID).
			WithStatus(status.String()).
			WithData("leg", kind.String()))
		return l.future, nil
	}

	l := &leg{
		kind:        kind,
		status:      kind.pending(),
		future:      newFuture(txID, kind),
		requestedAt: time.Now(),
	}

	workCtx := ctx
	l.handle = m.executor.Schedule(m.config.delay(kind), func(execCtx context.Context) error {
		return m.run(tracing.Detach(execCtx, workCtx), e, l)
	})
	if errors.Is(l.handle.Err(), deferred.ErrClosed) {
		span.SetError(ErrMachineClosed)
		return nil, ErrMachineClosed
	}
	e.legs[kind] = l

	m.metrics.RequestAccepted(m.name, kind.String())
	m.logger.Printf("tx %s: %s accepted, work runs in %v", txID, kind, m.config.delay(kind))
	requested := event.EventCompleteRequested
	if kind == LegCompensate {
		requested = event.EventCompensateRequested
	}
	m.publish(ctx, event.NewEvent(requested).
		WithTxID(txID).
		WithStatus(l.status.String()))

	return l.future, nil
}

// duplicate counts a repeated request for an existing leg. Callers hold e.mu.
func (m *Machine) duplicate(ctx context.Context, span tracing.Span, e *entry, l *leg) {
	l.duplicates++
	m.metrics.RequestDuplicate(m.name, l.kind.String())
	span.AddEvent("duplicate")
	m.publish(ctx, event.NewEvent(event.EventDuplicateRequest).
		WithTxID(e.txID).
		WithStatus(l.status.String()).
		WithData("leg", l.kind.String()).
		WithData("duplicates", l.duplicates).
		WithError(ErrDuplicateRequest))
}

// run executes the business effect of a leg on the deferred worker.
func (m *Machine) run(ctx context.Context, e *entry, l *leg) error {
	ctx, span := m.tracer.StartWork(ctx, m.name, e.txID, l.kind.String())
	defer span.End()

	if m.config.WorkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.WorkTimeout)
		defer cancel()
	}

	start := time.Now()
	workErr := m.invoke(ctx, l.kind, e.txID)
	duration := time.Since(start)

	status := l.kind.succeeded()
	if workErr != nil {
		status = l.kind.failed()
		workErr = fmt.Errorf("%w: %s of %s: %w", ErrWorkFailure, l.kind, e.txID, workErr)
		span.SetError(workErr)
		m.metrics.WorkFailed(m.name, l.kind.String(), duration)
		m.logger.Printf("tx %s: %s failed: %v", e.txID, l.kind, workErr)
	} else {
		// The counter is written before the leg turns terminal so a status
		// query never sees a terminal leg without its metric.
		if err := m.recorder.Increment(ctx, recordedKind(l.kind), e.txID, m.name); err != nil {
			m.recorderFailed("increment", e.txID, err)
		}
		m.metrics.WorkSucceeded(m.name, l.kind.String(), duration)
		m.logger.Printf("tx %s: %s finished in %v", e.txID, l.kind, duration)
	}

	m.remember(ctx, l.kind, e.txID, status)
	m.publish(ctx, event.NewEvent(outcomeEvent(status)).
		WithTxID(e.txID).
		WithStatus(status.String()).
		WithData("duration", duration).
		WithError(workErr))

	m.finish(e, l, status, workErr)
	return workErr
}

// invoke calls the participant capability for the leg. Panics become errors
// so a leg always reaches a terminal status.
func (m *Machine) invoke(ctx context.Context, kind Leg, txID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch kind {
	case LegComplete:
		if c, ok := m.participant.(Completable); ok {
			return c.OnComplete(ctx, txID)
		}
	case LegCompensate:
		if c, ok := m.participant.(Compensatable); ok {
			return c.OnCompensate(ctx, txID)
		}
	}
	return nil
}

func (m *Machine) finish(e *entry, l *leg, status ParticipantStatus, err error) {
	e.mu.Lock()
	if ValidateTransition(l.status, status) {
		l.status = status
		l.finishedAt = time.Now()
	}
	e.mu.Unlock()

	l.future.resolve(status, err)
}

// Status reports the participant status for txID.
//
// The answer starts from the machine's own view (Active when nothing was
// requested, otherwise the compensation leg if present, else the completion
// leg). A positive Completed count then yields Completed unless the
// compensation leg failed, and a positive Compensated count, checked last,
// yields Compensated.
func (m *Machine) Status(ctx context.Context, txID string) (ParticipantStatus, error) {
	ctx, span := m.tracer.StartRequest(ctx, m.name, txID, "status")
	defer span.End()

	if txID == "" {
		m.metrics.RequestRejected(m.name, "invalid_request")
		err := fmt.Errorf("%w: empty transaction id", ErrInvalidRequest)
		span.SetError(err)
		return "", err
	}

	if err := m.recorder.Increment(ctx, recorder.Status, txID, m.name); err != nil {
		m.recorderFailed("increment", txID, err)
	}
	completed, err := m.recorder.Get(ctx, recorder.Completed, txID, m.name)
	if err != nil {
		m.recorderFailed("get", txID, err)
	}
	compensated, err := m.recorder.Get(ctx, recorder.Compensated, txID, m.name)
	if err != nil {
		m.recorderFailed("get", txID, err)
	}

	status := m.base(txID)
	if completed > 0 && status != StatusFailedToCompensate {
		status = StatusCompleted
	}
	if compensated > 0 {
		status = StatusCompensated
	}

	if r, ok := m.participant.(Reportable); ok {
		if s, ok := r.OnStatus(ctx, txID, status); ok {
			status = s
		}
	}

	m.metrics.StatusReported(m.name, status.String())
	span.SetAttributes(attribute.String("lra.status", status.String()))
	m.publish(ctx, event.NewEvent(event.EventStatusQueried).
		WithTxID(txID).
		WithStatus(status.String()))

	return status, nil
}

// base returns the status derived from the machine's own legs.
func (m *Machine) base(txID string) ParticipantStatus {
	m.mu.RLock()
	e := m.entries[txID]
	m.mu.RUnlock()
	if e == nil {
		return StatusActive
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if l := e.legs[LegCompensate]; l != nil {
		return l.status
	}
	if l := e.legs[LegComplete]; l != nil {
		return l.status
	}
	return StatusActive
}

// Forget drops everything the machine knows about txID and cancels work that
// has not started. Work already running finishes but no longer affects the
// transaction's in-memory state. Recorded metrics are kept.
func (m *Machine) Forget(txID string) {
	m.mu.Lock()
	e := m.entries[txID]
	delete(m.entries, txID)
	m.mu.Unlock()
	if e == nil {
		return
	}

	e.mu.Lock()
	var cancelled []*leg
	for _, l := range e.legs {
		if l != nil && l.handle != nil && l.handle.Cancel() {
			cancelled = append(cancelled, l)
		}
	}
	e.mu.Unlock()

	for _, l := range cancelled {
		l.future.resolve(l.kind.pending(), ErrWorkCancelled)
	}
	if err := m.recorder.Increment(context.Background(), recorder.Forget, txID, m.name); err != nil {
		m.recorderFailed("increment", txID, err)
	}
	m.logger.Printf("tx %s: forgotten (%d pending work cancelled)", txID, len(cancelled))
	m.publish(context.Background(), event.NewEvent(event.EventForgotten).
		WithTxID(txID).
		WithData("cancelled", len(cancelled)))
}

// LegSnapshot is a read-only view of one leg.
type LegSnapshot struct {
	Requested   bool
	Status      ParticipantStatus
	RequestedAt time.Time
	FinishedAt  time.Time
	Duplicates  int
	Replayed    bool
}

// Snapshot is a read-only view of one transaction.
type Snapshot struct {
	TxID         string
	Status       ParticipantStatus
	Created      time.Time
	Completion   LegSnapshot
	Compensation LegSnapshot
}

// Snapshot returns the machine's own view of txID, without consulting the
// recorder.
func (m *Machine) Snapshot(txID string) (Snapshot, bool) {
	m.mu.RLock()
	e := m.entries[txID]
	m.mu.RUnlock()
	if e == nil {
		return Snapshot{TxID: txID, Status: StatusActive}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{
		TxID:         txID,
		Status:       StatusActive,
		Created:      e.created,
		Completion:   e.legs[LegComplete].snapshot(),
		Compensation: e.legs[LegCompensate].snapshot(),
	}
	if s.Compensation.Requested {
		s.Status = s.Compensation.Status
	} else if s.Completion.Requested {
		s.Status = s.Completion.Status
	}
	return s, true
}

func (l *leg) snapshot() LegSnapshot {
	if l == nil {
		return LegSnapshot{}
	}
	return LegSnapshot{
		Requested:   true,
		Status:      l.status,
		RequestedAt: l.requestedAt,
		FinishedAt:  l.finishedAt,
		Duplicates:  l.duplicates,
		Replayed:    l.replayed,
	}
}

// Pending returns the transactions with a leg still in flight, oldest first.
func (m *Machine) Pending() []Snapshot {
	m.mu.RLock()
	ids := make([]string, 0, len(m.entries))
	for txID := range m.entries {
		ids = append(ids, txID)
	}
	m.mu.RUnlock()

	var pending []Snapshot
	for _, txID := range ids {
		s, ok := m.Snapshot(txID)
		if !ok {
			continue
		}
		if s.Completion.inFlight() || s.Compensation.inFlight() {
			pending = append(pending, s)
		}
	}
	slices.SortFunc(pending, func(a, b Snapshot) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return strings.Compare(a.TxID, b.TxID)
	})
	return pending
}

func (l LegSnapshot) inFlight() bool {
	return l.Requested && !IsTerminal(l.Status)
}

// Len returns the number of transactions the machine tracks.
func (m *Machine) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close stops accepting requests and cancels this machine's unstarted work.
// Futures of cancelled legs resolve with ErrWorkCancelled while the legs keep
// their pending status, since the business effect never ran. When the machine
// created its own executor, running work is awaited.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	cancelled := 0
	m.eachLeg(func(l *leg) {
		if l.handle != nil && l.handle.Cancel() {
			cancelled++
		}
	})
	if m.ownsExecutor {
		m.executor.Close()
	}

	// A request racing Close may have scheduled after the first sweep and
	// been cancelled by the executor instead.
	m.eachLeg(func(l *leg) {
		if l.handle != nil && errors.Is(l.handle.Err(), deferred.ErrCancelled) {
			l.future.resolve(l.kind.pending(), ErrWorkCancelled)
		}
	})
	if cancelled > 0 {
		m.logger.Printf("closed with %d pending work cancelled", cancelled)
	}
}

// eachLeg calls fn for every requested leg under its entry lock.
func (m *Machine) eachLeg(fn func(l *leg)) {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		for _, l := range e.legs {
			if l != nil {
				fn(l)
			}
		}
		e.mu.Unlock()
	}
}

func (m *Machine) entry(txID string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.entries[txID]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrMachineClosed
	}
	if ok {
		return e, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrMachineClosed
	}
	if e, ok := m.entries[txID]; ok {
		return e, nil
	}
	e = &entry{txID: txID, created: time.Now()}
	m.entries[txID] = e
	return e, nil
}

// replay looks up a terminal outcome recorded by an earlier incarnation.
func (m *Machine) replay(ctx context.Context, kind Leg, txID string) (ParticipantStatus, bool) {
	if m.checker == nil {
		return "", false
	}
	exists, result, err := m.checker.Check(ctx, idempotency.Key(m.name, txID, kind.String()))
	if err != nil {
		m.logger.Printf("tx %s: idempotency check failed, running %s: %v", txID, kind, err)
		return "", false
	}
	if !exists {
		return "", false
	}
	status, ok := ParseStatus(string(result))
	if !ok || !IsTerminal(status) {
		m.logger.Printf("tx %s: ignoring idempotency record %q", txID, result)
		return "", false
	}
	return status, true
}

// remember records a terminal outcome for later replay.
func (m *Machine) remember(ctx context.Context, kind Leg, txID string, status ParticipantStatus) {
	if m.checker == nil {
		return
	}
	key := idempotency.Key(m.name, txID, kind.String())
	if err := m.checker.Mark(ctx, key, []byte(status), m.config.IdempotencyTTL); err != nil {
		m.logger.Printf("tx %s: failed to mark idempotency record: %v", txID, err)
	}
}

func (m *Machine) recorderFailed(op, txID string, err error) {
	m.metrics.RecorderFailed(m.name, op)
	m.logger.Printf("tx %s: %v: %s: %v", txID, ErrMetricStore, op, err)
}

func (m *Machine) publish(ctx context.Context, e event.Event) {
	if err := m.events.Publish(ctx, e.WithParticipant(m.name)); err != nil {
		m.logger.Printf("publish %s: %v", e.Type, err)
	}
}

func recordedKind(kind Leg) recorder.Kind {
	if kind == LegCompensate {
		return recorder.Compensated
	}
	return recorder.Completed
}

func outcomeEvent(status ParticipantStatus) event.EventType {
	switch status {
	case StatusCompleted:
		return event.EventCompleted
	case StatusCompensated:
		return event.EventCompensated
	case StatusFailedToComplete:
		return event.EventFailedToComplete
	default:
		return event.EventFailedToCompensate
	}
}
