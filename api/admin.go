package api

import (
	"net/http"
	"strconv"
	"time"

	"lra"
	"lra/circuit"
	"lra/event"
	"lra/recorder"
	"lra/recovery"
)

// adminHandler serves read-mostly JSON views of the participant.
type adminHandler struct {
	machine  *lra.Machine
	recovery *recovery.Worker
	journal  *event.Journal
	breakers []*circuit.Breaker
}

// LegInfo describes one leg of a transaction.
type LegInfo struct {
	Requested   bool       `json:"requested"`
	Status      string     `json:"status,omitempty"`
	RequestedAt *time.Time `json:"requested_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Duplicates  int        `json:"duplicates"`
	Replayed    bool       `json:"replayed"`
}

// TransactionSummary is a transaction as the machine holds it.
type TransactionSummary struct {
	TxID         string    `json:"tx_id"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	Completion   LegInfo   `json:"completion"`
	Compensation LegInfo   `json:"compensation"`
}

// TransactionDetail adds recorded counters, events and recovery progress.
type TransactionDetail struct {
	TransactionSummary
	Counters       map[string]int64 `json:"counters"`
	Events         []event.Record   `json:"events,omitempty"`
	RecoveryPasses *int             `json:"recovery_passes,omitempty"`
}

// CircuitBreakerInfo is the state of one breaker.
type CircuitBreakerInfo struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	Requests            int64  `json:"requests"`
	TotalFailures       int64  `json:"total_failures"`
	ConsecutiveFailures int64  `json:"consecutive_failures"`
	Rejected            int64  `json:"rejected"`
}

// RecoveryStatsResponse is the recovery worker's counters.
type RecoveryStatsResponse struct {
	IsRunning      bool     `json:"is_running"`
	ScannedCount   int64    `json:"scanned_count"`
	ProcessedCount int64    `json:"processed_count"`
	FailedCount    int64    `json:"failed_count"`
	ConvergedCount int64    `json:"converged_count"`
	Enlisted       []string `json:"enlisted"`
	ExpectedPasses int      `json:"expected_passes"`
}

func legInfo(l lra.LegSnapshot) LegInfo {
	info := LegInfo{
		Requested:  l.Requested,
		Duplicates: l.Duplicates,
		Replayed:   l.Replayed,
	}
	if !l.Requested {
		return info
	}
	info.Status = l.Status.String()
	if !l.RequestedAt.IsZero() {
		at := l.RequestedAt
		info.RequestedAt = &at
	}
	if !l.FinishedAt.IsZero() {
		at := l.FinishedAt
		info.FinishedAt = &at
	}
	return info
}

func summary(s lra.Snapshot) TransactionSummary {
	return TransactionSummary{
		TxID:         s.TxID,
		Status:       s.Status.String(),
		CreatedAt:    s.Created,
		Completion:   legInfo(s.Completion),
		Compensation: legInfo(s.Compensation),
	}
}

// HandleListTransactions GET /admin/transactions lists in-flight transactions.
func (h *adminHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	pending := h.machine.Pending()
	out := make([]TransactionSummary, 0, len(pending))
	for _, s := range pending {
		out = append(out, summary(s))
	}
	writeSuccess(w, out)
}

// HandleGetTransaction GET /admin/transactions/{txID}
func (h *adminHandler) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("txID")
	snap, ok := h.machine.Snapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeTransactionNotFound, "transaction not found: "+id)
		return
	}

	detail := TransactionDetail{
		TransactionSummary: summary(snap),
		Counters:           make(map[string]int64),
	}
	for _, kind := range []recorder.Kind{recorder.Completed, recorder.Compensated, recorder.Status, recorder.Forget} {
		n, err := h.machine.Recorder().Get(r.Context(), kind, id, h.machine.Name())
		if err != nil {
			writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
		detail.Counters[kind.String()] = n
	}
	if h.journal != nil {
		detail.Events = h.journal.ForTx(id)
	}
	if h.recovery != nil {
		if passes, ok := h.recovery.Passes(id); ok {
			detail.RecoveryPasses = &passes
		}
	}

	writeSuccess(w, detail)
}

// HandleGetRecoveryStats GET /admin/recovery/stats
func (h *adminHandler) HandleGetRecoveryStats(w http.ResponseWriter, r *http.Request) {
	if h.recovery == nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "recovery worker not configured")
		return
	}

	stats := h.recovery.Stats()
	writeSuccess(w, RecoveryStatsResponse{
		IsRunning:      stats.IsRunning,
		ScannedCount:   stats.ScannedCount,
		ProcessedCount: stats.ProcessedCount,
		FailedCount:    stats.FailedCount,
		ConvergedCount: stats.ConvergedCount,
		Enlisted:       h.recovery.Enlisted(),
		ExpectedPasses: h.recovery.Counter().Accepted(),
	})
}

// HandleGetCircuitBreakers GET /admin/circuit-breakers
func (h *adminHandler) HandleGetCircuitBreakers(w http.ResponseWriter, r *http.Request) {
	out := make([]CircuitBreakerInfo, 0, len(h.breakers))
	for _, b := range h.breakers {
		c := b.Counts()
		out = append(out, CircuitBreakerInfo{
			Name:                b.Name(),
			State:               b.State().String(),
			Requests:            c.Requests,
			TotalFailures:       c.TotalFailures,
			ConsecutiveFailures: c.ConsecutiveFailures,
			Rejected:            c.Rejected,
		})
	}
	writeSuccess(w, out)
}

// HandleResetCircuitBreaker POST /admin/circuit-breakers/{name}/reset
func (h *adminHandler) HandleResetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	for _, b := range h.breakers {
		if b.Name() == name {
			b.Reset()
			writeSuccess(w, map[string]string{"name": name, "state": b.State().String()})
			return
		}
	}
	writeError(w, http.StatusNotFound, ErrCodeServiceNotFound, "circuit breaker not found: "+name)
}

// HandleListEvents GET /admin/events?tx_id=&limit=
func (h *adminHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeSuccess(w, []event.Record{})
		return
	}

	if id := r.URL.Query().Get("tx_id"); id != "" {
		writeSuccess(w, h.journal.ForTx(id))
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	writeSuccess(w, h.journal.Recent(limit))
}
