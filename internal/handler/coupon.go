package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

// CreateCoupon handles POST /api/v1/coupons.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req couponRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.ownPromotion(r.Context(), tenant, req.PromotionID); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.toDomain(tenant)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.svc.CreateCoupon(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

// GetCoupon handles GET /api/v1/coupons/{code}.
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.svc.GetCoupon(r.Context(), tenant, r.PathValue("code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

// CheckCouponEligibility handles POST /api/v1/coupons/{code}/eligibility.
func (h *Handler) CheckCouponEligibility(w http.ResponseWriter, r *http.Request) {
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

	res, err := h.svc.CheckCouponEligibility(r.Context(), r.PathValue("code"), ec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeEligibility(e, res) })
}

// ListCustomerCoupons handles GET /api/v1/customers/{id}/coupons.
func (h *Handler) ListCustomerCoupons(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cs, err := h.svc.ListCustomerCoupons(r.Context(), tenant, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(cs, encodeCoupon))
}

// CreateConflictRule handles POST /api/v1/conflict-rules.
func (h *Handler) CreateConflictRule(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req conflictRuleRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	cr, err := h.svc.CreateConflictRule(r.Context(), req.toDomain(tenant))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeConflictRule(e, cr) })
}

// ListConflictRules handles GET /api/v1/conflict-rules.
func (h *Handler) ListConflictRules(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rules, err := h.svc.ListConflictRules(r.Context(), tenant)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(rules, encodeConflictRule))
}
