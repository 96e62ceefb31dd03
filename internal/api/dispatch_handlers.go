package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-mailer/internal/dispatch"
	"github.com/ignite/campaign-mailer/internal/pkg/httputil"
)

// DispatchResponse is the queue trigger result.
type DispatchResponse struct {
	Success bool            `json:"success"`
	Stats   *dispatch.Stats `json:"stats,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (h *Handlers) runDispatch(r *http.Request, id string) (DispatchResponse, int) {
	stats, err := h.dispatcher.Dispatch(r.Context(), id)
	if err != nil {
		return DispatchResponse{Success: false, Error: publicDispatchError(id, err)}, dispatchStatus(err)
	}
	return DispatchResponse{Success: true, Stats: stats}, http.StatusOK
}

// DispatchCampaign handles POST /api/campaigns/{id}/dispatch. It sends one
// batch and reports whether more remain.
func (h *Handlers) DispatchCampaign(w http.ResponseWriter, r *http.Request) {
	resp, status := h.runDispatch(r, chi.URLParam(r, "id"))
	httputil.JSON(w, status, resp)
}

// CronTick handles POST /api/cron/tick: one scheduling pass for external
// cron drivers.
func (h *Handlers) CronTick(w http.ResponseWriter, r *http.Request) {
	res, err := h.ticker.Tick(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, res)
}
