package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/pkg/httpmiddleware"
)

// --- Mock implementations ---

type mockService struct {
	promotions map[string]*promotion.Promotion
	coupons    map[string]*promotion.Coupon

	createErr error
	applyErr  error
	deleted   []string

	lastCreate promotion.Promotion
	lastPatch  promotion.PromotionPatch
	lastCoupon promotion.Coupon
	lastRule   promotion.ConflictRule
	lastApply  promotion.ApplyRequest
	lastEC     promotion.EligibilityContext
	lastFilter promotion.ListFilter
	lastFrom   *time.Time

	resolution  *promotion.Resolution
	eligibility promotion.EligibilityResult
}

func newMockService(ps ...*promotion.Promotion) *mockService {
	m := &mockService{
		promotions: make(map[string]*promotion.Promotion),
		coupons:    make(map[string]*promotion.Coupon),
	}
	for _, p := range ps {
		m.promotions[p.ID] = p
	}
	return m
}

func (m *mockService) CreatePromotion(_ context.Context, p promotion.Promotion) (*promotion.Promotion, error) {
	m.lastCreate = p
	if m.createErr != nil {
		return nil, m.createErr
	}
	p.ID = "new-id"
	return &p, nil
}

func (m *mockService) UpdatePromotion(_ context.Context, id string, patch promotion.PromotionPatch) (*promotion.Promotion, error) {
	m.lastPatch = patch
	p := *m.promotions[id]
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	return &p, nil
}

func (m *mockService) DeletePromotion(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockService) GetPromotion(_ context.Context, id string) (*promotion.Promotion, error) {
	p, ok := m.promotions[id]
	if !ok {
		return nil, promotion.ErrPromotionNotFound
	}
	return p, nil
}

func (m *mockService) ListPromotions(_ context.Context, f promotion.ListFilter) ([]promotion.Promotion, error) {
	m.lastFilter = f
	var out []promotion.Promotion
	for _, p := range m.promotions {
		if p.TenantID == f.TenantID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockService) CreateCoupon(_ context.Context, c promotion.Coupon) (*promotion.Coupon, error) {
	m.lastCoupon = c
	c.ID = "coupon-id"
	if c.Code == "" {
		c.Code = "GEN-0001"
	}
	return &c, nil
}

func (m *mockService) GetCoupon(_ context.Context, tenantID, code string) (*promotion.Coupon, error) {
	c, ok := m.coupons[code]
	if !ok || c.TenantID != tenantID {
		return nil, promotion.ErrCouponNotFound
	}
	return c, nil
}

func (m *mockService) ListCustomerCoupons(_ context.Context, tenantID, customerID string) ([]promotion.Coupon, error) {
	var out []promotion.Coupon
	for _, c := range m.coupons {
		if c.TenantID == tenantID && c.AssignedTo == customerID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockService) CreateConflictRule(_ context.Context, r promotion.ConflictRule) (*promotion.ConflictRule, error) {
	m.lastRule = r
	r.ID = "rule-id"
	return &r, nil
}

func (m *mockService) ListConflictRules(context.Context, string) ([]promotion.ConflictRule, error) {
	return nil, nil
}

func (m *mockService) CheckEligibility(_ context.Context, id string, ec promotion.EligibilityContext) (promotion.EligibilityResult, error) {
	m.lastEC = ec
	if _, ok := m.promotions[id]; !ok {
		return promotion.EligibilityResult{}, promotion.ErrPromotionNotFound
	}
	return m.eligibility, nil
}

func (m *mockService) CheckCouponEligibility(_ context.Context, _ string, ec promotion.EligibilityContext) (promotion.EligibilityResult, error) {
	m.lastEC = ec
	return m.eligibility, nil
}

func (m *mockService) ApplyPromotions(_ context.Context, req promotion.ApplyRequest) (*promotion.Resolution, error) {
	m.lastApply = req
	if m.applyErr != nil {
		return nil, m.applyErr
	}
	return m.resolution, nil
}

func (m *mockService) PromotionStatistics(_ context.Context, tenantID string, from, _ *time.Time) (*promotion.Statistics, error) {
	m.lastFrom = from
	return &promotion.Statistics{
		TenantID:      tenantID,
		TotalUsages:   3,
		TotalDiscount: decimal.RequireFromString("12.5"),
		TotalOriginal: decimal.RequireFromString("100"),
	}, nil
}

func (m *mockService) PromotionUsageStats(_ context.Context, id string, _, _ *time.Time) (*promotion.PromotionStat, error) {
	return &promotion.PromotionStat{PromotionID: id, Usages: 2, TotalDiscount: decimal.NewFromInt(10), AverageDiscount: decimal.NewFromInt(5)}, nil
}

// --- Helpers ---

func testPromotion(id, tenant string) *promotion.Promotion {
	return &promotion.Promotion{
		ID:            id,
		TenantID:      tenant,
		Code:          "SAVE10",
		Name:          "Save 10",
		DiscountType:  promotion.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10),
		TargetType:    promotion.TargetAll,
		StartDate:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		Status:        promotion.StatusActive,
	}
}

func newServer(svc Service) http.Handler {
	mux := http.NewServeMux()
	NewHandler(svc).Register(mux)
	return mux
}

func call(t *testing.T, h http.Handler, method, path, tenant, body string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if tenant != "" {
		req.Header.Set(httpmiddleware.TenantHeader, tenant)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.Equal(t, "application/json", w.Header().Get("Content-Type"))
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	c, _ := e["code"].(string)
	return c
}

const cartJSON = `"items":[{"productId":"sku-1","category":"shoes","quantity":2,"unitPrice":"50.00"}]`

// --- Tests ---

func TestCreatePromotion(t *testing.T) {
	svc := newMockService()
	h := newServer(svc)

	code, body := call(t, h, http.MethodPost, "/api/v1/promotions", "t1", `{
		"name": "Spring",
		"discountType": "PERCENTAGE",
		"discountValue": "15",
		"maxDiscountAmount": 20,
		"eligibilityRules": {">=": [{"var": "order.amount"}, 50]},
		"startDate": "2026-03-01",
		"endDate": "2026-05-31T23:00:00Z",
		"usagePerCustomer": 1
	}`)

	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "new-id", body["id"])
	assert.Equal(t, "20.00", body["maxDiscountAmount"])
	assert.Nil(t, body["minOrderAmount"])
	assert.Equal(t, "2026-03-01T00:00:00Z", body["startDate"])

	in := svc.lastCreate
	assert.Equal(t, "t1", in.TenantID)
	assert.True(t, in.DiscountValue.Equal(decimal.NewFromInt(15)))
	assert.JSONEq(t, `{">=": [{"var": "order.amount"}, 50]}`, string(in.EligibilityRules))
	require.NotNil(t, in.UsagePerCustomer)
	assert.EqualValues(t, 1, *in.UsagePerCustomer)
	assert.True(t, in.Stackable)
	assert.Equal(t, time.Date(2026, 5, 31, 23, 0, 0, 0, time.UTC), in.EndDate)
}

func TestCreatePromotion_Defaults(t *testing.T) {
	tests := []struct {
		name          string
		fields        string
		wantStackable bool
		wantEnd       time.Time
	}{
		{
			name:          "stackable omitted",
			fields:        `"endDate":"2026-02-01"`,
			wantStackable: true,
			wantEnd:       time.Date(2026, 2, 1, 23, 59, 59, 999999000, time.UTC),
		},
		{
			name:          "stackable false",
			fields:        `"stackable":false,"endDate":"2026-02-01"`,
			wantStackable: false,
			wantEnd:       time.Date(2026, 2, 1, 23, 59, 59, 999999000, time.UTC),
		},
		{
			name:          "midnight timestamp kept",
			fields:        `"stackable":true,"endDate":"2026-02-01T00:00:00Z"`,
			wantStackable: true,
			wantEnd:       time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockService()
			h := newServer(svc)

			code, body := call(t, h, http.MethodPost, "/api/v1/promotions", "t1",
				`{"name":"x","discountType":"PERCENTAGE","discountValue":"5","startDate":"2026-01-01",`+tt.fields+`}`)

			require.Equal(t, http.StatusCreated, code, body)
			assert.Equal(t, tt.wantStackable, svc.lastCreate.Stackable)
			assert.Equal(t, tt.wantEnd, svc.lastCreate.EndDate)
			assert.Equal(t, tt.wantStackable, body["stackable"])
			assert.Equal(t, tt.wantEnd.Format(time.RFC3339Nano), body["endDate"])
		})
	}
}

func TestCreatePromotion_Errors(t *testing.T) {
	tests := []struct {
		name       string
		tenant     string
		body       string
		svcErr     error
		wantStatus int
		wantCode   string
		wantFields []string
	}{
		{
			name:       "missing tenant",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "missing_tenant",
		},
		{
			name:       "malformed body",
			tenant:     "t1",
			body:       `{"name":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "unknown field",
			tenant:     "t1",
			body:       `{"nmae":"x"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "tag violations use json names",
			tenant:     "t1",
			body:       `{"discountType":"BOGO","startDate":"2026-01-01","endDate":"2026-02-01"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "validation_failed",
			wantFields: []string{"name", "discountType"},
		},
		{
			name:       "bad date",
			tenant:     "t1",
			body:       `{"name":"x","discountType":"PERCENTAGE","startDate":"March 1st","endDate":"2026-02-01"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "validation_failed",
			wantFields: []string{"startDate"},
		},
		{
			name:       "domain validation",
			tenant:     "t1",
			body:       `{"name":"x","discountType":"PERCENTAGE","startDate":"2026-01-01","endDate":"2026-02-01"}`,
			svcErr:     &promotion.ValidationError{Violations: []promotion.Violation{{Field: "endDate", Message: "must not be before startDate"}}},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "validation_failed",
			wantFields: []string{"endDate"},
		},
		{
			name:       "duplicate code",
			tenant:     "t1",
			body:       `{"code":"SAVE10","name":"x","discountType":"PERCENTAGE","startDate":"2026-01-01","endDate":"2026-02-01"}`,
			svcErr:     errors.Wrap(promotion.ErrDuplicateCode, "promotion code"),
			wantStatus: http.StatusConflict,
			wantCode:   "duplicate_code",
		},
		{
			name:       "store failure is hidden",
			tenant:     "t1",
			body:       `{"name":"x","discountType":"PERCENTAGE","startDate":"2026-01-01","endDate":"2026-02-01"}`,
			svcErr:     errors.New("connection reset by peer"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockService()
			svc.createErr = tt.svcErr

			code, body := call(t, newServer(svc), http.MethodPost, "/api/v1/promotions", tt.tenant, tt.body)

			assert.Equal(t, tt.wantStatus, code)
			assert.Equal(t, tt.wantCode, errorCode(body))
			if tt.wantStatus == http.StatusInternalServerError {
				assert.NotContains(t, body["error"].(map[string]any)["message"], "connection")
			}
			if tt.wantFields != nil {
				vs := body["error"].(map[string]any)["violations"].([]any)
				var got []string
				for _, v := range vs {
					got = append(got, v.(map[string]any)["field"].(string))
				}
				assert.Equal(t, tt.wantFields, got)
			}
		})
	}
}

func TestGetPromotion_TenantIsolation(t *testing.T) {
	h := newServer(newMockService(testPromotion("p1", "t1")))

	code, body := call(t, h, http.MethodGet, "/api/v1/promotions/p1", "t1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "SAVE10", body["code"])
	assert.Equal(t, "10", body["discountValue"])

	code, body = call(t, h, http.MethodGet, "/api/v1/promotions/p1", "t2", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "promotion_not_found", errorCode(body))
}

func TestListPromotions(t *testing.T) {
	svc := newMockService(testPromotion("p1", "t1"), testPromotion("p2", "t2"))
	h := newServer(svc)

	code, body := call(t, h, http.MethodGet, "/api/v1/promotions?status=ACTIVE&limit=1000", "t1", "")

	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["data"], 1)
	assert.Equal(t, promotion.ListFilter{TenantID: "t1", Status: promotion.StatusActive, Limit: maxPageSize}, svc.lastFilter)

	code, _ = call(t, h, http.MethodGet, "/api/v1/promotions?offset=-1", "t1", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUpdatePromotion(t *testing.T) {
	svc := newMockService(testPromotion("p1", "t1"))
	h := newServer(svc)

	code, body := call(t, h, http.MethodPatch, "/api/v1/promotions/p1", "t1",
		`{"name":"Renamed","eligibilityRules":null,"endDate":"2026-06-30"}`)

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Renamed", body["name"])
	require.NotNil(t, svc.lastPatch.EligibilityRules)
	assert.Empty(t, svc.lastPatch.EligibilityRules, "explicit null clears the rules")
	require.NotNil(t, svc.lastPatch.EndDate)
	assert.Equal(t, time.Date(2026, 6, 30, 23, 59, 59, 999999000, time.UTC), *svc.lastPatch.EndDate)
	assert.Nil(t, svc.lastPatch.StartDate)
	assert.Nil(t, svc.lastPatch.Status)
}

func TestDeletePromotion(t *testing.T) {
	svc := newMockService(testPromotion("p1", "t1"))
	h := newServer(svc)

	code, _ := call(t, h, http.MethodDelete, "/api/v1/promotions/p1", "t2", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Empty(t, svc.deleted)

	code, _ = call(t, h, http.MethodDelete, "/api/v1/promotions/p1", "t1", "")
	assert.Equal(t, http.StatusNoContent, code)
	assert.Equal(t, []string{"p1"}, svc.deleted)
}

func TestCheckEligibility(t *testing.T) {
	svc := newMockService(testPromotion("p1", "t1"))
	svc.eligibility = promotion.EligibilityResult{
		Reason: &promotion.Reason{Code: promotion.ReasonMinOrderNotMet, Message: "order total must be at least 50.00"},
	}
	h := newServer(svc)

	code, body := call(t, h, http.MethodPost, "/api/v1/promotions/p1/eligibility", "t1",
		`{"customer":{"id":"c1","tier":"gold","signupDate":"2025-01-01"},`+cartJSON+`}`)

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["eligible"])
	assert.Equal(t, promotion.ReasonMinOrderNotMet, body["reason"].(map[string]any)["code"])

	ec := svc.lastEC
	assert.Equal(t, "t1", ec.TenantID)
	assert.Equal(t, "gold", ec.Customer.Tier)
	require.Len(t, ec.Items, 1)
	assert.True(t, ec.Items[0].UnitPrice.Equal(decimal.NewFromInt(50)))
}

func TestCheckEligibility_EmptyCart(t *testing.T) {
	h := newServer(newMockService(testPromotion("p1", "t1")))

	code, body := call(t, h, http.MethodPost, "/api/v1/promotions/p1/eligibility", "t1", `{"items":[]}`)

	assert.Equal(t, http.StatusUnprocessableEntity, code)
	vs := body["error"].(map[string]any)["violations"].([]any)
	assert.Equal(t, "items", vs[0].(map[string]any)["field"])
}

func TestCheckEligibility_NestedItemViolation(t *testing.T) {
	h := newServer(newMockService(testPromotion("p1", "t1")))

	code, body := call(t, h, http.MethodPost, "/api/v1/promotions/p1/eligibility", "t1",
		`{"items":[{"productId":"sku-1","quantity":0,"unitPrice":"1"}]}`)

	assert.Equal(t, http.StatusUnprocessableEntity, code)
	vs := body["error"].(map[string]any)["violations"].([]any)
	assert.Equal(t, "items[0].quantity", vs[0].(map[string]any)["field"])
}

func TestApply(t *testing.T) {
	svc := newMockService()
	svc.resolution = &promotion.Resolution{
		Selected: []promotion.Result{{
			PromotionID:    "p1",
			PromotionCode:  "SAVE10",
			DiscountType:   promotion.DiscountPercentage,
			DiscountAmount: decimal.NewFromInt(10),
			AppliedItems:   []string{"sku-1"},
			Score:          0.75,
		}},
		Rejected: []promotion.Rejection{{
			PromotionID: "p2",
			Code:        "VIP",
			Reason:      promotion.Reason{Code: promotion.ReasonMutuallyExclusive, Message: "cannot be combined with SAVE10"},
		}},
		Subtotal:      decimal.NewFromInt(100),
		TotalDiscount: decimal.NewFromInt(10),
		Strategy:      promotion.StrategyHighestDiscount,
	}
	h := newServer(svc)

	code, body := call(t, h, http.MethodPost, "/api/v1/apply", "t1",
		`{"orderId":"o-1","promotionIds":["p1","p2"],"couponCodes":["vip"],`+cartJSON+`}`)

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "10.00", body["totalDiscount"])
	assert.Equal(t, "90.00", body["finalAmount"])
	assert.Equal(t, "HIGHEST_DISCOUNT", body["resolutionStrategy"])
	assert.Equal(t, false, body["dryRun"])
	selected := body["selectedPromotions"].([]any)
	require.Len(t, selected, 1)
	assert.Equal(t, "10.00", selected[0].(map[string]any)["discountAmount"])
	rejected := body["rejectedPromotions"].([]any)
	require.Len(t, rejected, 1)
	assert.Equal(t, promotion.ReasonMutuallyExclusive, rejected[0].(map[string]any)["reason"].(map[string]any)["code"])

	req := svc.lastApply
	assert.False(t, req.DryRun)
	assert.Equal(t, "o-1", req.Context.OrderID)
	assert.Equal(t, []string{"p1", "p2"}, req.PromotionIDs)
	assert.Equal(t, []string{"vip"}, req.CouponCodes)
}

func TestPreview_IsDryRun(t *testing.T) {
	svc := newMockService()
	svc.resolution = &promotion.Resolution{Subtotal: decimal.NewFromInt(100), TotalDiscount: decimal.Zero}
	h := newServer(svc)

	code, body := call(t, h, http.MethodPost, "/api/v1/preview", "t1", `{"promotionIds":["p1"],`+cartJSON+`}`)

	require.Equal(t, http.StatusOK, code)
	assert.True(t, svc.lastApply.DryRun)
	assert.Equal(t, true, body["dryRun"])
	assert.Nil(t, body["resolutionStrategy"])
	assert.Empty(t, body["selectedPromotions"])
}

func TestApply_ServiceValidation(t *testing.T) {
	svc := newMockService()
	svc.applyErr = &promotion.ValidationError{Violations: []promotion.Violation{{Field: "orderId", Message: "is required to apply promotions"}}}

	code, body := call(t, newServer(svc), http.MethodPost, "/api/v1/apply", "t1", `{`+cartJSON+`}`)

	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "validation_failed", errorCode(body))
}

func TestCoupons(t *testing.T) {
	svc := newMockService(testPromotion("p1", "t1"))
	svc.coupons["WELCOME"] = &promotion.Coupon{ID: "c1", TenantID: "t1", PromotionID: "p1", Code: "WELCOME", AssignedTo: "cust-1", Status: promotion.StatusActive}
	h := newServer(svc)

	t.Run("create", func(t *testing.T) {
		code, body := call(t, h, http.MethodPost, "/api/v1/coupons", "t1", `{"promotionId":"p1","assignedTo":"cust-9","usageLimit":1}`)
		require.Equal(t, http.StatusCreated, code)
		assert.Equal(t, "GEN-0001", body["code"])
		assert.Equal(t, "cust-9", body["assignedTo"])
		assert.Equal(t, "t1", svc.lastCoupon.TenantID)
	})
	t.Run("create for foreign promotion", func(t *testing.T) {
		code, _ := call(t, h, http.MethodPost, "/api/v1/coupons", "t2", `{"promotionId":"p1"}`)
		assert.Equal(t, http.StatusNotFound, code)
	})
	t.Run("get", func(t *testing.T) {
		code, body := call(t, h, http.MethodGet, "/api/v1/coupons/WELCOME", "t1", "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "p1", body["promotionId"])
	})
	t.Run("get unknown", func(t *testing.T) {
		code, body := call(t, h, http.MethodGet, "/api/v1/coupons/NOPE", "t1", "")
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "coupon_not_found", errorCode(body))
	})
	t.Run("customer wallet", func(t *testing.T) {
		code, body := call(t, h, http.MethodGet, "/api/v1/customers/cust-1/coupons", "t1", "")
		require.Equal(t, http.StatusOK, code)
		assert.Len(t, body["data"], 1)
	})
	t.Run("eligibility", func(t *testing.T) {
		svc.eligibility = promotion.EligibilityResult{Eligible: true, Score: 0.5}
		code, body := call(t, h, http.MethodPost, "/api/v1/coupons/WELCOME/eligibility", "t1", `{`+cartJSON+`}`)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, body["eligible"])
		assert.NotContains(t, body, "reason")
	})
}

func TestCreateConflictRule(t *testing.T) {
	svc := newMockService()
	h := newServer(svc)

	code, body := call(t, h, http.MethodPost, "/api/v1/conflict-rules", "t1",
		`{"conflictType":"STACK_LIMIT","promotionIds":["p1","p2","p3"],"resolutionRules":{"maxStack":2}}`)

	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "HIGHEST_DISCOUNT", body["resolutionStrategy"], "strategy defaults to highest discount")
	assert.Equal(t, true, body["active"])
	assert.Equal(t, float64(2), body["resolutionRules"].(map[string]any)["maxStack"])
	assert.Equal(t, 2, svc.lastRule.Rules.MaxStack)

	code, _ = call(t, h, http.MethodPost, "/api/v1/conflict-rules", "t1", `{"conflictType":"MUTUALLY_EXCLUSIVE","promotionIds":["p1"]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestStatistics(t *testing.T) {
	svc := newMockService(testPromotion("p1", "t1"))
	h := newServer(svc)

	code, body := call(t, h, http.MethodGet, "/api/v1/stats?from=2026-01-01", "t1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "12.50", body["totalDiscount"])
	require.NotNil(t, svc.lastFrom)
	assert.Equal(t, 2026, svc.lastFrom.Year())

	code, body = call(t, h, http.MethodGet, "/api/v1/promotions/p1/stats", "t1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "5.00", body["averageDiscount"])
	assert.Nil(t, body["firstUsedAt"])

	code, _ = call(t, h, http.MethodGet, "/api/v1/stats?to=yesterday", "t1", "")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}
