// Package handler exposes the promotion engine over HTTP/JSON.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/pkg/httpmiddleware"
)

// maxBodyBytes bounds request bodies; carts are small.
const maxBodyBytes = 1 << 20

// Service is the part of *promotion.Service the HTTP API uses.
type Service interface {
	CreatePromotion(ctx context.Context, p promotion.Promotion) (*promotion.Promotion, error)
	UpdatePromotion(ctx context.Context, id string, patch promotion.PromotionPatch) (*promotion.Promotion, error)
	DeletePromotion(ctx context.Context, id string) error
	GetPromotion(ctx context.Context, id string) (*promotion.Promotion, error)
	ListPromotions(ctx context.Context, f promotion.ListFilter) ([]promotion.Promotion, error)

	CreateCoupon(ctx context.Context, c promotion.Coupon) (*promotion.Coupon, error)
	GetCoupon(ctx context.Context, tenantID, code string) (*promotion.Coupon, error)
	ListCustomerCoupons(ctx context.Context, tenantID, customerID string) ([]promotion.Coupon, error)

	CreateConflictRule(ctx context.Context, r promotion.ConflictRule) (*promotion.ConflictRule, error)
	ListConflictRules(ctx context.Context, tenantID string) ([]promotion.ConflictRule, error)

	CheckEligibility(ctx context.Context, id string, ec promotion.EligibilityContext) (promotion.EligibilityResult, error)
	CheckCouponEligibility(ctx context.Context, code string, ec promotion.EligibilityContext) (promotion.EligibilityResult, error)
	ApplyPromotions(ctx context.Context, req promotion.ApplyRequest) (*promotion.Resolution, error)

	PromotionStatistics(ctx context.Context, tenantID string, from, to *time.Time) (*promotion.Statistics, error)
	PromotionUsageStats(ctx context.Context, id string, from, to *time.Time) (*promotion.PromotionStat, error)
}

var _ Service = (*promotion.Service)(nil)

// Handler serves the /api/v1 routes.
type Handler struct {
	svc      Service
	validate *validator.Validate
}

// NewHandler returns a Handler backed by svc.
func NewHandler(svc Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: newValidator(),
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/promotions", h.CreatePromotion)
	mux.HandleFunc("GET /api/v1/promotions", h.ListPromotions)
	mux.HandleFunc("GET /api/v1/promotions/{id}", h.GetPromotion)
	mux.HandleFunc("PATCH /api/v1/promotions/{id}", h.UpdatePromotion)
	mux.HandleFunc("DELETE /api/v1/promotions/{id}", h.DeletePromotion)
	mux.HandleFunc("GET /api/v1/promotions/{id}/stats", h.PromotionStats)
	mux.HandleFunc("POST /api/v1/promotions/{id}/eligibility", h.CheckEligibility)

	mux.HandleFunc("POST /api/v1/coupons", h.CreateCoupon)
	mux.HandleFunc("GET /api/v1/coupons/{code}", h.GetCoupon)
	mux.HandleFunc("POST /api/v1/coupons/{code}/eligibility", h.CheckCouponEligibility)
	mux.HandleFunc("GET /api/v1/customers/{id}/coupons", h.ListCustomerCoupons)

	mux.HandleFunc("POST /api/v1/conflict-rules", h.CreateConflictRule)
	mux.HandleFunc("GET /api/v1/conflict-rules", h.ListConflictRules)

	mux.HandleFunc("POST /api/v1/apply", h.Apply)
	mux.HandleFunc("POST /api/v1/preview", h.Preview)
	mux.HandleFunc("GET /api/v1/stats", h.Statistics)
}

// errMissingTenant is returned when a request carries no tenant header.
var errMissingTenant = errors.New("missing " + httpmiddleware.TenantHeader + " header")

func tenantOf(r *http.Request) (string, error) {
	t := r.Header.Get(httpmiddleware.TenantHeader)
	if t == "" {
		return "", errMissingTenant
	}
	return t, nil
}

// decode reads a JSON body into dst and validates its tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &badRequestError{err: err}
	}
	if err := h.validate.Struct(dst); err != nil {
		return fromValidator(err)
	}
	return nil
}

// ownPromotion loads promotion id and hides promotions of other tenants.
func (h *Handler) ownPromotion(ctx context.Context, tenant, id string) (*promotion.Promotion, error) {
	p, err := h.svc.GetPromotion(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.TenantID != tenant {
		return nil, promotion.ErrPromotionNotFound
	}
	return p, nil
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
