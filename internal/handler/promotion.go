package handler

import (
	"math"
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/promo-engine/internal/domain/promotion"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// CreatePromotion handles POST /api/v1/promotions.
func (h *Handler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req promotionRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.toDomain(tenant)
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.svc.CreatePromotion(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodePromotion(e, p) })
}

// ListPromotions handles GET /api/v1/promotions?status=&limit=&offset=.
func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	limit, err := intParam(q, "limit", defaultPageSize, maxPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := intParam(q, "offset", 0, math.MaxInt32)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ps, err := h.svc.ListPromotions(r.Context(), promotion.ListFilter{
		TenantID: tenant,
		Status:   promotion.Status(q.Get("status")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(ps, encodePromotion))
}

// GetPromotion handles GET /api/v1/promotions/{id}.
func (h *Handler) GetPromotion(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.ownPromotion(r.Context(), tenant, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePromotion(e, p) })
}

// UpdatePromotion handles PATCH /api/v1/promotions/{id}.
func (h *Handler) UpdatePromotion(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	if _, err := h.ownPromotion(r.Context(), tenant, id); err != nil {
		writeError(w, r, err)
		return
	}
	var req promotionPatchRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	patch, err := req.toDomain()
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.svc.UpdatePromotion(r.Context(), id, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePromotion(e, p) })
}

// DeletePromotion handles DELETE /api/v1/promotions/{id}. Promotions with
// usage history are archived instead of removed.
func (h *Handler) DeletePromotion(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	if _, err := h.ownPromotion(r.Context(), tenant, id); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.DeletePromotion(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PromotionStats handles GET /api/v1/promotions/{id}/stats?from=&to=.
func (h *Handler) PromotionStats(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	if _, err := h.ownPromotion(r.Context(), tenant, id); err != nil {
		writeError(w, r, err)
		return
	}
	from, to, err := timeRange(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}

	st, err := h.svc.PromotionUsageStats(r.Context(), id, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePromotionStat(e, st) })
}

// CheckEligibility handles POST /api/v1/promotions/{id}/eligibility.
func (h *Handler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req contextRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ec, err := req.toDomain(tenant)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.svc.CheckEligibility(r.Context(), r.PathValue("id"), ec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeEligibility(e, res) })
}

// Statistics handles GET /api/v1/stats?from=&to=.
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	from, to, err := timeRange(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}

	st, err := h.svc.PromotionStatistics(r.Context(), tenant, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeStatistics(e, st) })
}
