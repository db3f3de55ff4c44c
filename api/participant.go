package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"lra"
	"lra/logging"
	"lra/recovery"
)

// participantHandler serves the protocol routes.
type participantHandler struct {
	machine  *lra.Machine
	recovery *recovery.Worker
	counter  *recovery.Counter
	logger   logging.Logger
}

func txID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderTx))
}

// joinOrBegin returns the caller's transaction, or a new one when the
// request carries none.
func joinOrBegin(r *http.Request) string {
	if id := txID(r); id != "" {
		return id
	}
	return uuid.NewString()
}

// HandleEnlistComplete joins a transaction that should complete.
func (h *participantHandler) HandleEnlistComplete(w http.ResponseWriter, r *http.Request) {
	id := joinOrBegin(r)
	if !h.enlist(w, id, recovery.IntentComplete) {
		return
	}
	writeText(w, http.StatusOK, id)
}

// HandleEnlistCompensate joins a transaction and answers 500, which tells
// the coordinator to cancel it.
func (h *participantHandler) HandleEnlistCompensate(w http.ResponseWriter, r *http.Request) {
	id := joinOrBegin(r)
	if !h.enlist(w, id, recovery.IntentCompensate) {
		return
	}
	writeText(w, http.StatusInternalServerError, id)
}

func (h *participantHandler) enlist(w http.ResponseWriter, id string, intent recovery.Intent) bool {
	if h.recovery == nil {
		return true
	}
	if err := h.recovery.Enlist(id, intent); err != nil {
		writeFailure(w, err)
		return false
	}
	return true
}

// HandleComplete PUT /complete
func (h *participantHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	f, err := h.machine.Complete(r.Context(), txID(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeFuture(w, f)
}

// HandleCompensate PUT /compensate
func (h *participantHandler) HandleCompensate(w http.ResponseWriter, r *http.Request) {
	f, err := h.machine.Compensate(r.Context(), txID(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeFuture(w, f)
}

// HandleStatus GET /status
func (h *participantHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.machine.Status(r.Context(), txID(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeText(w, http.StatusOK, status.String())
}

// HandleForget PUT /forget
func (h *participantHandler) HandleForget(w http.ResponseWriter, r *http.Request) {
	id := txID(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "missing "+HeaderTx+" header")
		return
	}
	h.machine.Forget(id)
	if h.recovery != nil {
		h.recovery.Forget(id)
	}
	w.WriteHeader(http.StatusOK)
}

// HandleAccept PUT /accept?recoveryPasses=N records the pass expectation for
// a new or joined transaction.
func (h *participantHandler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	passes := 0
	if raw := r.URL.Query().Get("recoveryPasses"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "recoveryPasses must be a non-negative integer")
			return
		}
		passes = n
	}

	id := joinOrBegin(r)
	h.counter.Accept(passes)
	h.logger.Printf("tx %s: expecting %d recovery passes", id, passes)
	writeText(w, http.StatusOK, id)
}

// HandleGetAccept GET /accept
func (h *participantHandler) HandleGetAccept(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, strconv.Itoa(h.counter.Accepted()))
}

// writeFuture answers 202 while the work is pending and 200 with the final
// status once it finished.
func writeFuture(w http.ResponseWriter, f *lra.Future) {
	select {
	case <-f.Done():
		writeText(w, http.StatusOK, f.Status().String())
	default:
		writeText(w, http.StatusAccepted, f.Status().String())
	}
}

func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lra.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	case errors.Is(err, lra.ErrMachineClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}
