package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

// Apply handles POST /api/v1/apply: resolve and commit usage for an order.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, false)
}

// Preview handles POST /api/v1/preview: resolve without committing usage.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, true)
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request, dryRun bool) {
	tenant, err := tenantOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req applyRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.toDomain(tenant, dryRun)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.svc.ApplyPromotions(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeResolution(e, res, dryRun) })
}
