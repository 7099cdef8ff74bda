package promotion

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/promotion/rule"
)

const instrumentationName = "github.com/xenking/promo-engine/internal/domain/promotion"

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used when a context carries no Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithScorer replaces the eligibility scoring policy.
func WithScorer(scorer Scorer) Option {
	return func(s *Service) { s.checker = NewChecker(scorer) }
}

// WithLogger sets the service logger.
func WithLogger(lg *zap.Logger) Option {
	return func(s *Service) { s.lg = lg }
}

// WithMeterProvider sets the meter provider for apply metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(instrumentationName) }
}

// WithMaxCommitAttempts bounds how many times ApplyPromotions re-resolves
// after a refused usage increment.
func WithMaxCommitAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxCommitAttempts = n
		}
	}
}

// Service is the entry point of the promotion engine.
type Service struct {
	repo              Repository
	checker           *Checker
	now               func() time.Time
	lg                *zap.Logger
	tracer            trace.Tracer
	meterProvider     metric.MeterProvider
	maxCommitAttempts int

	applyRequests   metric.Int64Counter
	applySelected   metric.Int64Counter
	commitConflicts metric.Int64Counter
	applyDiscount   metric.Float64Histogram
}

// NewService creates a Service backed by repo.
func NewService(repo Repository, opts ...Option) (*Service, error) {
	s := &Service{
		repo:              repo,
		checker:           NewChecker(nil),
		now:               time.Now,
		lg:                zap.NewNop(),
		tracer:            tracenoop.NewTracerProvider().Tracer(instrumentationName),
		meterProvider:     metricnoop.NewMeterProvider(),
		maxCommitAttempts: 5,
	}
	for _, o := range opts {
		o(s)
	}

	meter := s.meterProvider.Meter(instrumentationName)
	var err error
	if s.applyRequests, err = meter.Int64Counter("promo.apply.requests",
		metric.WithDescription("Apply and preview requests")); err != nil {
		return nil, errors.Wrap(err, "apply requests counter")
	}
	if s.applySelected, err = meter.Int64Counter("promo.apply.selected",
		metric.WithDescription("Promotions selected by conflict resolution")); err != nil {
		return nil, errors.Wrap(err, "apply selected counter")
	}
	if s.commitConflicts, err = meter.Int64Counter("promo.apply.commit_conflicts",
		metric.WithDescription("Usage increments refused at commit time")); err != nil {
		return nil, errors.Wrap(err, "commit conflicts counter")
	}
	if s.applyDiscount, err = meter.Float64Histogram("promo.apply.discount",
		metric.WithDescription("Total discount granted per apply")); err != nil {
		return nil, errors.Wrap(err, "apply discount histogram")
	}
	return s, nil
}

// --- Promotion CRUD ---

// CreatePromotion validates p, fills defaults, and stores it. A missing code
// is generated from the name; a taken code yields ErrDuplicateCode.
func (s *Service) CreatePromotion(ctx context.Context, p Promotion) (*Promotion, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	if p.TargetType == "" {
		p.TargetType = TargetAll
	}
	p.UsageCount = 0

	if err := normalizeRules(&p); err != nil {
		return nil, err
	}
	if err := validatePromotion(&p); err != nil {
		return nil, err
	}

	if p.Code == "" {
		code, err := s.uniquePromotionCode(ctx, p.TenantID, p.Name)
		if err != nil {
			return nil, err
		}
		p.Code = code
	} else {
		p.Code = NormalizeCode(p.Code)
		if err := s.ensurePromotionCodeFree(ctx, p.TenantID, p.Code, ""); err != nil {
			return nil, err
		}
	}

	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	if err := s.repo.CreatePromotion(ctx, &p); err != nil {
		return nil, errors.Wrap(err, "create promotion")
	}

	s.lg.Info("Promotion created",
		zap.String("promotion_id", p.ID),
		zap.String("code", p.Code),
		zap.String("tenant_id", p.TenantID),
	)
	return &p, nil
}

// PromotionPatch lists the fields UpdatePromotion may change. Nil fields are
// left untouched.
type PromotionPatch struct {
	Code              *string
	Name              *string
	Description       *string
	Type              *string
	DiscountValue     *decimal.Decimal
	MaxDiscountAmount *decimal.NullDecimal
	MinOrderAmount    *decimal.NullDecimal
	Tiers             []Tier
	BuyQuantity       *int
	GetQuantity       *int
	GetPercent        *decimal.NullDecimal
	EligibilityRules  []byte
	TargetType        *TargetType
	TargetIDs         []string
	UsageLimit        *int64
	UsagePerCustomer  *int64
	StartDate         *time.Time
	EndDate           *time.Time
	Priority          *int
	Stackable         *bool
	StackableWith     []string
	Status            *Status
}

// UpdatePromotion applies patch to promotion id and re-validates the result.
func (s *Service) UpdatePromotion(ctx context.Context, id string, patch PromotionPatch) (*Promotion, error) {
	p, err := s.repo.GetPromotionByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get promotion")
	}

	if patch.Code != nil {
		code := NormalizeCode(*patch.Code)
		if code != p.Code {
			if err := s.ensurePromotionCodeFree(ctx, p.TenantID, code, p.ID); err != nil {
				return nil, err
			}
			p.Code = code
		}
	}
	setIf(&p.Name, patch.Name)
	setIf(&p.Description, patch.Description)
	setIf(&p.Type, patch.Type)
	setIf(&p.DiscountValue, patch.DiscountValue)
	setIf(&p.MaxDiscountAmount, patch.MaxDiscountAmount)
	setIf(&p.MinOrderAmount, patch.MinOrderAmount)
	setIf(&p.BuyQuantity, patch.BuyQuantity)
	setIf(&p.GetQuantity, patch.GetQuantity)
	setIf(&p.GetPercent, patch.GetPercent)
	setIf(&p.TargetType, patch.TargetType)
	setIf(&p.StartDate, patch.StartDate)
	setIf(&p.EndDate, patch.EndDate)
	setIf(&p.Priority, patch.Priority)
	setIf(&p.Stackable, patch.Stackable)
	setIf(&p.Status, patch.Status)
	if patch.Tiers != nil {
		p.Tiers = patch.Tiers
	}
	if patch.EligibilityRules != nil {
		p.EligibilityRules = patch.EligibilityRules
	}
	if patch.TargetIDs != nil {
		p.TargetIDs = patch.TargetIDs
	}
	if patch.StackableWith != nil {
		p.StackableWith = patch.StackableWith
	}
	if patch.UsageLimit != nil {
		p.UsageLimit = patch.UsageLimit
	}
	if patch.UsagePerCustomer != nil {
		p.UsagePerCustomer = patch.UsagePerCustomer
	}

	if err := normalizeRules(p); err != nil {
		return nil, err
	}
	if err := validatePromotion(p); err != nil {
		return nil, err
	}

	p.UpdatedAt = s.now()
	if err := s.repo.UpdatePromotion(ctx, p); err != nil {
		return nil, errors.Wrap(err, "update promotion")
	}
	return p, nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// DeletePromotion archives a promotion that has usage history and removes
// one that has none.
func (s *Service) DeletePromotion(ctx context.Context, id string) error {
	p, err := s.repo.GetPromotionByID(ctx, id)
	if err != nil {
		return errors.Wrap(err, "get promotion")
	}

	used, err := s.repo.HasUsage(ctx, id)
	if err != nil {
		return errors.Wrap(err, "check usage")
	}
	if !used {
		if err := s.repo.DeletePromotion(ctx, id); err != nil {
			return errors.Wrap(err, "delete promotion")
		}
		s.lg.Info("Promotion deleted", zap.String("promotion_id", id))
		return nil
	}

	p.Status = StatusArchived
	p.UpdatedAt = s.now()
	if err := s.repo.UpdatePromotion(ctx, p); err != nil {
		return errors.Wrap(err, "archive promotion")
	}
	s.lg.Info("Promotion archived", zap.String("promotion_id", id))
	return nil
}

// GetPromotion returns promotion id.
func (s *Service) GetPromotion(ctx context.Context, id string) (*Promotion, error) {
	return s.repo.GetPromotionByID(ctx, id)
}

// GetPromotionByCode returns the tenant's promotion with code.
func (s *Service) GetPromotionByCode(ctx context.Context, tenantID, code string) (*Promotion, error) {
	return s.repo.GetPromotionByCode(ctx, tenantID, NormalizeCode(code))
}

// ListPromotions lists promotions matching f.
func (s *Service) ListPromotions(ctx context.Context, f ListFilter) ([]Promotion, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return s.repo.ListPromotions(ctx, f)
}

func normalizeRules(p *Promotion) error {
	tree, err := rule.Parse(p.EligibilityRules)
	if err != nil {
		var ire *rule.InvalidRuleError
		if errors.As(err, &ire) {
			return &ValidationError{Violations: []Violation{{Field: "eligibilityRules", Message: ire.Error()}}}
		}
		return err
	}
	if tree == nil {
		p.EligibilityRules = nil
		return nil
	}
	p.EligibilityRules = rule.Encode(tree)
	return nil
}

func (s *Service) ensurePromotionCodeFree(ctx context.Context, tenantID, code, selfID string) error {
	existing, err := s.repo.GetPromotionByCode(ctx, tenantID, code)
	switch {
	case errors.Is(err, ErrPromotionNotFound):
		return nil
	case err != nil:
		return errors.Wrap(err, "check promotion code")
	case existing.ID != selfID:
		return errors.Wrapf(ErrDuplicateCode, "promotion code %q", code)
	}
	return nil
}

const codeAttempts = 5

func (s *Service) uniquePromotionCode(ctx context.Context, tenantID, name string) (string, error) {
	for range codeAttempts {
		code := GenerateCode(name)
		err := s.ensurePromotionCodeFree(ctx, tenantID, code, "")
		if errors.Is(err, ErrDuplicateCode) {
			continue
		}
		return code, err
	}
	return "", errors.Wrap(ErrDuplicateCode, "generate promotion code")
}

// --- Coupons ---

// CreateCoupon validates c against its parent promotion and stores it. Codes
// are unique per tenant.
func (s *Service) CreateCoupon(ctx context.Context, c Coupon) (*Coupon, error) {
	parent, err := s.repo.GetPromotionByID(ctx, c.PromotionID)
	if err != nil {
		return nil, errors.Wrap(err, "get parent promotion")
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
	if c.StartDate.IsZero() {
		c.StartDate = parent.StartDate
	}
	if c.EndDate.IsZero() {
		c.EndDate = parent.EndDate
	}
	c.UsageCount = 0

	if err := validateCoupon(&c, parent); err != nil {
		return nil, err
	}

	if c.Code == "" {
		code, err := s.uniqueCouponCode(ctx, c.TenantID, parent.Name)
		if err != nil {
			return nil, err
		}
		c.Code = code
	} else {
		c.Code = NormalizeCode(c.Code)
		if err := s.ensureCouponCodeFree(ctx, c.TenantID, c.Code); err != nil {
			return nil, err
		}
	}

	c.CreatedAt = s.now()
	if err := s.repo.CreateCoupon(ctx, &c); err != nil {
		return nil, errors.Wrap(err, "create coupon")
	}
	return &c, nil
}

// GetCoupon returns the tenant's coupon with code.
func (s *Service) GetCoupon(ctx context.Context, tenantID, code string) (*Coupon, error) {
	return s.repo.GetCouponByCode(ctx, tenantID, NormalizeCode(code))
}

// ListCustomerCoupons returns the coupons assigned to a customer.
func (s *Service) ListCustomerCoupons(ctx context.Context, tenantID, customerID string) ([]Coupon, error) {
	return s.repo.GetCouponsByCustomer(ctx, tenantID, customerID)
}

func (s *Service) ensureCouponCodeFree(ctx context.Context, tenantID, code string) error {
	_, err := s.repo.GetCouponByCode(ctx, tenantID, code)
	switch {
	case errors.Is(err, ErrCouponNotFound):
		return nil
	case err != nil:
		return errors.Wrap(err, "check coupon code")
	}
	return errors.Wrapf(ErrDuplicateCode, "coupon code %q", code)
}

func (s *Service) uniqueCouponCode(ctx context.Context, tenantID, name string) (string, error) {
	for range codeAttempts {
		code := GenerateCode(name)
		err := s.ensureCouponCodeFree(ctx, tenantID, code)
		if errors.Is(err, ErrDuplicateCode) {
			continue
		}
		return code, err
	}
	return "", errors.Wrap(ErrDuplicateCode, "generate coupon code")
}

// --- Conflict rules ---

// CreateConflictRule validates r and checks that every governed promotion
// exists in the same tenant.
func (s *Service) CreateConflictRule(ctx context.Context, r ConflictRule) (*ConflictRule, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Type == ConflictStackLimit && r.Rules.MaxStack == 0 {
		r.Rules.MaxStack = 1
	}
	if err := validateConflictRule(&r); err != nil {
		return nil, err
	}

	var vs violations
	for _, id := range r.PromotionIDs {
		p, err := s.repo.GetPromotionByID(ctx, id)
		switch {
		case errors.Is(err, ErrPromotionNotFound):
			vs.add("promotionIds", "promotion %s does not exist", id)
		case err != nil:
			return nil, errors.Wrap(err, "get governed promotion")
		case p.TenantID != r.TenantID:
			vs.add("promotionIds", "promotion %s belongs to another tenant", id)
		}
	}
	if err := vs.err(); err != nil {
		return nil, err
	}

	r.CreatedAt = s.now()
	if err := s.repo.CreateConflictRule(ctx, &r); err != nil {
		return nil, errors.Wrap(err, "create conflict rule")
	}
	return &r, nil
}

// ListConflictRules lists a tenant's conflict rules.
func (s *Service) ListConflictRules(ctx context.Context, tenantID string) ([]ConflictRule, error) {
	return s.repo.ListConflictRules(ctx, tenantID)
}

// --- Eligibility ---

// CheckEligibility reports whether promotion id applies to ec. A promotion
// that exists but does not apply is not an error.
func (s *Service) CheckEligibility(ctx context.Context, id string, ec EligibilityContext) (EligibilityResult, error) {
	ctx, span := s.tracer.Start(ctx, "promotion.CheckEligibility",
		trace.WithAttributes(attribute.String("promotion.id", id)))
	defer span.End()

	ec = s.withNow(ec)
	p, err := s.repo.GetPromotionByID(ctx, id)
	if err != nil {
		return EligibilityResult{}, spanErr(span, err)
	}
	if ec.TenantID != "" && p.TenantID != ec.TenantID {
		return EligibilityResult{}, spanErr(span, ErrPromotionNotFound)
	}

	used, err := s.customerUsage(ctx, p, ec)
	if err != nil {
		return EligibilityResult{}, spanErr(span, err)
	}
	res, err := s.checker.IsPromotionEligible(p, ec, used)
	if err != nil {
		return EligibilityResult{}, spanErr(span, err)
	}
	span.SetAttributes(attribute.Bool("promotion.eligible", res.Eligible))
	return res, nil
}

// CheckCouponEligibility reports whether the coupon with code applies to ec.
func (s *Service) CheckCouponEligibility(ctx context.Context, code string, ec EligibilityContext) (EligibilityResult, error) {
	ctx, span := s.tracer.Start(ctx, "promotion.CheckCouponEligibility")
	defer span.End()

	ec = s.withNow(ec)
	c, err := s.repo.GetCouponByCode(ctx, ec.TenantID, NormalizeCode(code))
	if err != nil {
		return EligibilityResult{}, spanErr(span, err)
	}
	p, err := s.repo.GetPromotionByID(ctx, c.PromotionID)
	if err != nil {
		return EligibilityResult{}, spanErr(span, errors.Wrap(err, "get coupon promotion"))
	}

	used, err := s.customerUsage(ctx, p, ec)
	if err != nil {
		return EligibilityResult{}, spanErr(span, err)
	}
	res, err := s.checker.IsCouponEligible(c, p, ec, used)
	if err != nil {
		return EligibilityResult{}, spanErr(span, err)
	}
	return res, nil
}

func (s *Service) withNow(ec EligibilityContext) EligibilityContext {
	if ec.Now.IsZero() {
		ec.Now = s.now()
	}
	return ec
}

func (s *Service) customerUsage(ctx context.Context, p *Promotion, ec EligibilityContext) (int64, error) {
	if p.UsagePerCustomer == nil || ec.Customer.ID == "" {
		return 0, nil
	}
	n, err := s.repo.CountCustomerUsage(ctx, p.ID, ec.Customer.ID)
	if err != nil {
		return 0, errors.Wrap(err, "count customer usage")
	}
	return n, nil
}

// --- Apply ---

// ApplyRequest asks for the best legal combination of the given promotions
// and coupons.
type ApplyRequest struct {
	Context      EligibilityContext
	PromotionIDs []string
	CouponCodes  []string
	// DryRun resolves without committing usage.
	DryRun bool
}

// candidate is one submitted promotion, with its coupon if it came from one.
type candidate struct {
	seq       int
	promotion *Promotion
	coupon    *Coupon
}

// ApplyPromotions evaluates every candidate, resolves conflicts, and commits
// usage of the selected promotions in one transaction. A candidate that is
// unknown, ineligible, or loses a usage race is reported as a rejection; only
// store failures abort the request.
func (s *Service) ApplyPromotions(ctx context.Context, req ApplyRequest) (*Resolution, error) {
	ctx, span := s.tracer.Start(ctx, "promotion.ApplyPromotions",
		trace.WithAttributes(
			attribute.Int("promotion.candidates", len(req.PromotionIDs)+len(req.CouponCodes)),
			attribute.Bool("promotion.dry_run", req.DryRun),
		))
	defer span.End()

	s.applyRequests.Add(ctx, 1, metric.WithAttributes(attribute.Bool("dry_run", req.DryRun)))

	ec := s.withNow(req.Context)
	if err := validateApplyContext(ec, req.DryRun); err != nil {
		return nil, spanErr(span, err)
	}

	if !req.DryRun {
		res, err := s.recordedResolution(ctx, ec, req)
		if err != nil {
			return nil, spanErr(span, err)
		}
		if res != nil {
			span.SetAttributes(attribute.Bool("promotion.replayed", true))
			return res, nil
		}
	}

	cands, rejected, err := s.collectCandidates(ctx, ec, req)
	if err != nil {
		return nil, spanErr(span, err)
	}

	results, seqs, more, err := s.evaluate(ctx, ec, cands)
	if err != nil {
		return nil, spanErr(span, err)
	}
	rejected = append(rejected, more...)

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.PromotionID
	}
	var rules []ConflictRule
	if len(ids) > 1 {
		if rules, err = s.repo.GetConflictRulesForPromotions(ctx, ids); err != nil {
			return nil, spanErr(span, errors.Wrap(err, "get conflict rules"))
		}
	}

	subtotal := ec.Subtotal()
	byID := make(map[string]candidate, len(cands))
	for _, c := range cands {
		byID[c.promotion.ID] = c
	}

	var res Resolution
	for attempt := 1; ; attempt++ {
		res = ResolveConflicts(results, rules, subtotal)
		if req.DryRun || len(res.Selected) == 0 {
			break
		}

		err := s.repo.CommitUsage(ctx, s.usageCommits(ec, res, byID))
		if err == nil {
			break
		}
		if errors.Is(err, ErrAlreadyApplied) {
			s.lg.Info("Order already applied, returning committed usage",
				zap.String("order_id", ec.OrderID))
			recorded, rerr := s.recordedResolution(ctx, ec, req)
			if rerr != nil {
				return nil, spanErr(span, rerr)
			}
			if recorded == nil {
				return nil, spanErr(span, errors.Wrapf(err, "order %s has no committed usage", ec.OrderID))
			}
			return recorded, nil
		}

		var lim *LimitExceededError
		if !errors.As(err, &lim) {
			return nil, spanErr(span, errors.Wrap(err, "commit usage"))
		}
		s.commitConflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", lim.Scope)))
		s.lg.Warn("Usage increment refused, re-resolving",
			zap.String("promotion_id", lim.PromotionID),
			zap.String("scope", lim.Scope),
			zap.Int("attempt", attempt),
		)

		idx := slices.IndexFunc(results, func(r Result) bool { return r.PromotionID == lim.PromotionID })
		if idx < 0 {
			return nil, spanErr(span, errors.Wrapf(err, "refused promotion %s was not selected", lim.PromotionID))
		}
		rejected = append(rejected, seqRejection{seq: seqs[idx], Rejection: Rejection{
			PromotionID: lim.PromotionID,
			Code:        results[idx].label(),
			Reason:      Reason{Code: ReasonUsageCommitFailed, Message: limitMessage(lim.Scope)},
		}})
		results = slices.Delete(results, idx, idx+1)
		seqs = slices.Delete(seqs, idx, idx+1)

		if attempt >= s.maxCommitAttempts {
			for i, r := range results {
				rejected = append(rejected, seqRejection{seq: seqs[i], Rejection: Rejection{
					PromotionID: r.PromotionID,
					Code:        r.label(),
					Reason:      Reason{Code: ReasonUsageCommitFailed, Message: "promotion is under heavy demand, try again"},
				}})
			}
			results, seqs = nil, nil
			res = ResolveConflicts(nil, nil, subtotal)
			break
		}
	}

	for _, rj := range res.Rejected {
		idx := slices.IndexFunc(results, func(r Result) bool { return r.PromotionID == rj.PromotionID })
		seq := 0
		if idx >= 0 {
			seq = seqs[idx]
		}
		rejected = append(rejected, seqRejection{seq: seq, Rejection: rj})
	}
	slices.SortStableFunc(rejected, func(a, b seqRejection) int { return cmp.Compare(a.seq, b.seq) })
	res.Rejected = make([]Rejection, len(rejected))
	for i, r := range rejected {
		res.Rejected[i] = r.Rejection
	}

	s.applySelected.Add(ctx, int64(len(res.Selected)))
	s.applyDiscount.Record(ctx, res.TotalDiscount.InexactFloat64())
	span.SetAttributes(
		attribute.Int("promotion.selected", len(res.Selected)),
		attribute.String("promotion.total_discount", res.TotalDiscount.StringFixed(2)),
	)
	return &res, nil
}

type seqRejection struct {
	seq int
	Rejection
}

func limitMessage(scope string) string {
	switch scope {
	case ScopeCustomer:
		return "already used the maximum number of times"
	case ScopeCoupon:
		return "coupon has already been used"
	}
	return "promotion usage limit reached"
}

func validateApplyContext(ec EligibilityContext, dryRun bool) error {
	var vs violations
	if ec.TenantID == "" {
		vs.add("tenantId", "is required")
	}
	if !dryRun && ec.OrderID == "" {
		vs.add("orderId", "is required to apply promotions")
	}
	if len(ec.Items) == 0 {
		vs.add("items", "must not be empty")
	}
	for i, it := range ec.Items {
		if it.ProductID == "" {
			vs.add("items", "item %d: productId is required", i)
		}
		if it.Quantity <= 0 {
			vs.add("items", "item %d: quantity must be greater than 0", i)
		}
		if it.UnitPrice.IsNegative() {
			vs.add("items", "item %d: unitPrice must not be negative", i)
		}
	}
	if ec.OrderAmount.IsNegative() {
		vs.add("orderAmount", "must not be negative")
	}
	return vs.err()
}

// collectCandidates loads the submitted promotions and coupons, deduplicating
// by promotion. Unknown ids and codes become rejections.
func (s *Service) collectCandidates(ctx context.Context, ec EligibilityContext, req ApplyRequest) ([]candidate, []seqRejection, error) {
	var (
		cands    []candidate
		rejected []seqRejection
		seen     = make(map[string]int)
		seq      int
	)

	add := func(c candidate) {
		if i, ok := seen[c.promotion.ID]; ok {
			if cands[i].coupon == nil && c.coupon != nil {
				cands[i].coupon = c.coupon
			}
			return
		}
		seen[c.promotion.ID] = len(cands)
		cands = append(cands, c)
	}

	for _, id := range req.PromotionIDs {
		seq++
		p, err := s.repo.GetPromotionByID(ctx, id)
		if err == nil && p.TenantID != ec.TenantID {
			err = ErrPromotionNotFound
		}
		if errors.Is(err, ErrPromotionNotFound) {
			rejected = append(rejected, seqRejection{seq: seq, Rejection: Rejection{
				PromotionID: id,
				Reason:      Reason{Code: ReasonNotFound, Message: "promotion does not exist"},
			}})
			continue
		}
		if err != nil {
			return nil, nil, errors.Wrapf(err, "get promotion %s", id)
		}
		add(candidate{seq: seq, promotion: p})
	}

	for _, code := range req.CouponCodes {
		seq++
		c, err := s.repo.GetCouponByCode(ctx, ec.TenantID, NormalizeCode(code))
		if errors.Is(err, ErrCouponNotFound) {
			rejected = append(rejected, seqRejection{seq: seq, Rejection: Rejection{
				Code:   code,
				Reason: Reason{Code: ReasonNotFound, Message: "coupon code " + code + " does not exist"},
			}})
			continue
		}
		if err != nil {
			return nil, nil, errors.Wrapf(err, "get coupon %s", code)
		}
		p, err := s.repo.GetPromotionByID(ctx, c.PromotionID)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "get promotion of coupon %s", code)
		}
		add(candidate{seq: seq, promotion: p, coupon: c})
	}

	return cands, rejected, nil
}

// evaluate checks eligibility and computes the discount of each candidate.
func (s *Service) evaluate(ctx context.Context, ec EligibilityContext, cands []candidate) ([]Result, []int, []seqRejection, error) {
	var (
		results  []Result
		seqs     []int
		rejected []seqRejection
	)
	for _, c := range cands {
		p := c.promotion
		code := p.Code
		if c.coupon != nil {
			code = c.coupon.Code
		}
		reject := func(r Reason) {
			rejected = append(rejected, seqRejection{seq: c.seq, Rejection: Rejection{
				PromotionID: p.ID, Code: code, Reason: r,
			}})
		}

		used, err := s.customerUsage(ctx, p, ec)
		if err != nil {
			return nil, nil, nil, err
		}

		var elig EligibilityResult
		if c.coupon != nil {
			elig, err = s.checker.IsCouponEligible(c.coupon, p, ec, used)
		} else {
			elig, err = s.checker.IsPromotionEligible(p, ec, used)
		}
		if err != nil {
			s.lg.Error("Promotion rules cannot be evaluated", zap.String("promotion_id", p.ID), zap.Error(err))
			reject(Reason{Code: ReasonRulesInvalid, Message: "promotion is misconfigured"})
			continue
		}
		if !elig.Eligible {
			reject(*elig.Reason)
			continue
		}

		amount := CalculateDiscountAmount(p, ec, nil)
		if !amount.IsPositive() {
			reject(Reason{Code: ReasonZeroDiscount, Message: "promotion gives no discount on this cart"})
			continue
		}

		res := Result{
			PromotionID:    p.ID,
			PromotionCode:  p.Code,
			DiscountAmount: amount,
			DiscountType:   p.DiscountType,
			AppliedItems:   ApplicableItemIDs(p, ec),
			Score:          elig.Score,
			Priority:       p.Priority,
			Stackable:      p.Stackable,
			StackableWith:  p.StackableWith,
			Type:           p.Type,
		}
		if c.coupon != nil {
			res.CouponID = c.coupon.ID
			res.CouponCode = c.coupon.Code
		}
		results = append(results, res)
		seqs = append(seqs, c.seq)
	}
	return results, seqs, rejected, nil
}

func (s *Service) usageCommits(ec EligibilityContext, res Resolution, byID map[string]candidate) []UsageCommit {
	final := floorAtZero(res.Subtotal.Sub(res.TotalDiscount))
	commits := make([]UsageCommit, 0, len(res.Selected))
	for _, sel := range res.Selected {
		meta := map[string]string{"discountType": string(sel.DiscountType)}
		if res.Strategy != "" {
			meta["strategy"] = string(res.Strategy)
		}
		if sel.PromotionCode != "" {
			meta["promotionCode"] = sel.PromotionCode
		}
		if sel.CouponCode != "" {
			meta["couponCode"] = sel.CouponCode
		}
		commits = append(commits, UsageCommit{
			Usage: Usage{
				ID:             uuid.NewString(),
				TenantID:       ec.TenantID,
				PromotionID:    sel.PromotionID,
				CouponID:       sel.CouponID,
				OrderID:        ec.OrderID,
				CustomerID:     ec.Customer.ID,
				DiscountAmount: sel.DiscountAmount,
				OriginalAmount: res.Subtotal,
				FinalAmount:    final,
				AppliedItems:   sel.AppliedItems,
				Metadata:       meta,
				CreatedAt:      ec.Now,
			},
			PerCustomerLimit: byID[sel.PromotionID].promotion.UsagePerCustomer,
		})
	}
	return commits
}

// recordedResolution rebuilds the resolution an order was committed with.
// Submitted promotions and coupons that are not part of it are rejected, so
// the response never claims a discount that was not committed. It returns
// nil when the order has no usage yet.
func (s *Service) recordedResolution(ctx context.Context, ec EligibilityContext, req ApplyRequest) (*Resolution, error) {
	usages, err := s.repo.GetOrderUsage(ctx, ec.TenantID, ec.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order usage")
	}
	if len(usages) == 0 {
		return nil, nil
	}

	res := &Resolution{
		Subtotal:      usages[0].OriginalAmount,
		TotalDiscount: zero,
		Strategy:      Strategy(usages[0].Metadata["strategy"]),
		Replayed:      true,
	}
	promotions := make(map[string]bool, len(usages))
	coupons := make(map[string]bool, len(usages))
	for _, u := range usages {
		res.Selected = append(res.Selected, Result{
			PromotionID:    u.PromotionID,
			PromotionCode:  u.Metadata["promotionCode"],
			CouponID:       u.CouponID,
			CouponCode:     u.Metadata["couponCode"],
			DiscountAmount: u.DiscountAmount,
			DiscountType:   DiscountType(u.Metadata["discountType"]),
			AppliedItems:   u.AppliedItems,
		})
		res.TotalDiscount = res.TotalDiscount.Add(u.DiscountAmount)
		promotions[u.PromotionID] = true
		if code := u.Metadata["couponCode"]; code != "" {
			coupons[code] = true
		}
	}

	reason := Reason{Code: ReasonOrderApplied, Message: "order " + ec.OrderID + " was already applied without this promotion"}
	for _, id := range req.PromotionIDs {
		if !promotions[id] {
			res.Rejected = append(res.Rejected, Rejection{PromotionID: id, Reason: reason})
		}
	}
	for _, code := range req.CouponCodes {
		if !coupons[NormalizeCode(code)] {
			res.Rejected = append(res.Rejected, Rejection{Code: code, Reason: reason})
		}
	}
	return res, nil
}

// --- Statistics ---

// PromotionStatistics aggregates a tenant's usage history in [from, to].
func (s *Service) PromotionStatistics(ctx context.Context, tenantID string, from, to *time.Time) (*Statistics, error) {
	return s.repo.PromotionStatistics(ctx, tenantID, from, to)
}

// PromotionUsageStats aggregates the usage history of promotion id.
func (s *Service) PromotionUsageStats(ctx context.Context, id string, from, to *time.Time) (*PromotionStat, error) {
	if _, err := s.repo.GetPromotionByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.PromotionUsageStats(ctx, id, from, to)
}

// HealthCheck reports whether the store is reachable.
func (s *Service) HealthCheck(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
