package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-mailer/internal/pkg/httputil"
	"github.com/ignite/campaign-mailer/internal/service/campaign"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// ListCampaigns handles GET /api/campaigns?status=&search=&page=&limit=
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	p := httputil.ParsePagination(r, defaultPageSize, maxPageSize)
	q := r.URL.Query()
	items, total, err := h.campaigns.List(r.Context(), campaign.ListFilter{
		Status: q.Get("status"),
		Search: q.Get("search"),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.Paginated(w, items, p, total)
}

// CreateCampaign handles POST /api/campaigns
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := h.campaigns.Create(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.Created(w, c)
}

// GetCampaign handles GET /api/campaigns/{id}
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

// UpdateCampaign handles PUT /api/campaigns/{id}. Only drafts are editable.
func (h *Handlers) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.UpdateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := h.campaigns.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

// DeleteCampaign handles DELETE /api/campaigns/{id}
func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.campaigns.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}

type queueResponse struct {
	*campaign.QueueResult
	Dispatch *DispatchResponse `json:"dispatch,omitempty"`
}

// QueueCampaign handles POST /api/campaigns/{id}/queue. Recipients are
// materialized and, unless scheduled_at is in the future, the first batch
// is dispatched before responding. A failed first dispatch does not undo
// the queue; the scheduling trigger picks the campaign up again.
func (h *Handlers) QueueCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.campaigns.Queue(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	out := queueResponse{QueueResult: res}
	if res.DispatchNow {
		d, _ := h.runDispatch(r, id)
		out.Dispatch = &d
	}
	httputil.OK(w, out)
}

// CancelCampaign handles POST /api/campaigns/{id}/cancel
func (h *Handlers) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.campaigns.Cancel(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"id": id, "status": "canceled"})
}

// DuplicateCampaign handles POST /api/campaigns/{id}/duplicate
func (h *Handlers) DuplicateCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Duplicate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.Created(w, c)
}

type resendRequest struct {
	RecipientIDs []string `json:"recipient_ids"`
}

// ResendFailures handles POST /api/campaigns/{id}/resend-failures. The body
// is optional; without recipient_ids every failed recipient is reset.
func (h *Handlers) ResendFailures(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.BadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	n, err := h.campaigns.ResendFailures(r.Context(), id, req.RecipientIDs)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	d, _ := h.runDispatch(r, id)
	httputil.OK(w, map[string]interface{}{
		"reset":    n,
		"dispatch": d,
	})
}

// ListRecipients handles GET /api/campaigns/{id}/recipients?status=&page=&limit=
func (h *Handlers) ListRecipients(w http.ResponseWriter, r *http.Request) {
	p := httputil.ParsePagination(r, defaultPageSize, maxPageSize)
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	switch status {
	case "", "pending", "sent", "failed":
	default:
		httputil.BadRequest(w, "status must be pending, sent or failed")
		return
	}
	items, total, err := h.campaigns.Recipients(r.Context(), chi.URLParam(r, "id"), campaign.RecipientFilter{
		Status: status,
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.Paginated(w, items, p, total)
}

// CampaignStats handles GET /api/campaigns/{id}/stats
func (h *Handlers) CampaignStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.campaigns.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, st)
}
