// Command promo-seed loads a demo tenant with one promotion of every discount
// type, a few coupons, and conflict rules. Running it twice is harmless:
// existing codes are reused.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/storage/postgres"
)

// seeder is satisfied by *promotion.Service.
type seeder interface {
	CreatePromotion(ctx context.Context, p promotion.Promotion) (*promotion.Promotion, error)
	GetPromotionByCode(ctx context.Context, tenantID, code string) (*promotion.Promotion, error)
	CreateCoupon(ctx context.Context, c promotion.Coupon) (*promotion.Coupon, error)
	CreateConflictRule(ctx context.Context, r promotion.ConflictRule) (*promotion.ConflictRule, error)
	ListConflictRules(ctx context.Context, tenantID string) ([]promotion.ConflictRule, error)
}

func main() {
	var (
		databaseURL string
		tenantID    string
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&tenantID, "tenant", "demo", "tenant to seed")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, tenantID); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, tenantID string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.Migrate(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	svc, err := promotion.NewService(postgres.NewPromotionRepository(pool), promotion.WithLogger(lg))
	if err != nil {
		return errors.Wrap(err, "create promotion service")
	}
	return seed(ctx, svc, lg, tenantID, time.Now().UTC())
}

func ptr[T any](v T) *T { return &v }

func demoPromotions(tenantID string, now time.Time) []promotion.Promotion {
	start := now.Truncate(24 * time.Hour)
	end := start.AddDate(0, 3, 0).Add(-time.Microsecond)
	base := func(code, name string) promotion.Promotion {
		return promotion.Promotion{
			TenantID:  tenantID,
			Code:      code,
			Name:      name,
			StartDate: start,
			EndDate:   end,
			Status:    promotion.StatusActive,
		}
	}

	welcome := base("WELCOME10", "Welcome 10% off")
	welcome.DiscountType = promotion.DiscountPercentage
	welcome.DiscountValue = decimal.NewFromInt(10)
	welcome.MaxDiscountAmount = decimal.NewNullDecimal(decimal.NewFromInt(25))
	welcome.UsagePerCustomer = ptr[int64](1)
	welcome.EligibilityRules = []byte(`{"<=": [{"var": "customer.orderCount"}, 0]}`)

	fiver := base("FIVEOFF", "Five off orders over 40")
	fiver.DiscountType = promotion.DiscountFixedAmount
	fiver.DiscountValue = decimal.NewFromInt(5)
	fiver.MinOrderAmount = decimal.NewNullDecimal(decimal.NewFromInt(40))
	fiver.Type = "BASKET"
	fiver.Stackable = true

	tiers := base("SPENDMORE", "Spend more, save more")
	tiers.DiscountType = promotion.DiscountTiered
	tiers.Tiers = []promotion.Tier{
		{Threshold: decimal.NewFromInt(50), Percent: decimal.NewFromInt(5)},
		{Threshold: decimal.NewFromInt(100), Percent: decimal.NewFromInt(10)},
		{Threshold: decimal.NewFromInt(200), Percent: decimal.NewFromInt(15)},
	}
	tiers.Priority = 10

	shoes := base("SHOES3FOR2", "Shoes: buy 2, get 1 free")
	shoes.DiscountType = promotion.DiscountBuyXGetY
	shoes.BuyQuantity = 2
	shoes.GetQuantity = 1
	shoes.TargetType = promotion.TargetCategory
	shoes.TargetIDs = []string{"shoes"}
	shoes.Stackable = true
	shoes.StackableWith = []string{"BASKET"}

	gold := base("GOLDWEEKEND", "Gold members weekend 20%")
	gold.DiscountType = promotion.DiscountPercentage
	gold.DiscountValue = decimal.NewFromInt(20)
	gold.UsageLimit = ptr[int64](1000)
	gold.Priority = 20
	gold.EligibilityRules = []byte(`{"and": [
		{"==": [{"var": "customer.tier"}, "gold"]},
		{"in": [{"var": "time.weekday"}, [0, 6]]}
	]}`)

	return []promotion.Promotion{welcome, fiver, tiers, shoes, gold}
}

func seed(ctx context.Context, svc seeder, lg *zap.Logger, tenantID string, now time.Time) error {
	byCode := make(map[string]*promotion.Promotion)
	for _, p := range demoPromotions(tenantID, now) {
		created, err := svc.CreatePromotion(ctx, p)
		switch {
		case errors.Is(err, promotion.ErrDuplicateCode):
			if created, err = svc.GetPromotionByCode(ctx, tenantID, p.Code); err != nil {
				return errors.Wrapf(err, "load existing promotion %s", p.Code)
			}
			lg.Info("Promotion exists", zap.String("code", p.Code))
		case err != nil:
			return errors.Wrapf(err, "create promotion %s", p.Code)
		default:
			lg.Info("Promotion created", zap.String("code", created.Code), zap.String("id", created.ID))
		}
		byCode[p.Code] = created
	}

	coupons := []promotion.Coupon{
		{PromotionID: byCode["WELCOME10"].ID, Code: "HELLO-ALICE", AssignedTo: "alice"},
		{PromotionID: byCode["WELCOME10"].ID, Code: "HELLO-BOB", AssignedTo: "bob"},
		{PromotionID: byCode["GOLDWEEKEND"].ID, Code: "GOLD-VIP", UsageLimit: ptr[int64](50)},
	}
	for _, c := range coupons {
		c.TenantID = tenantID
		_, err := svc.CreateCoupon(ctx, c)
		switch {
		case errors.Is(err, promotion.ErrDuplicateCode):
			lg.Info("Coupon exists", zap.String("code", c.Code))
		case err != nil:
			return errors.Wrapf(err, "create coupon %s", c.Code)
		default:
			lg.Info("Coupon created", zap.String("code", c.Code))
		}
	}

	existing, err := svc.ListConflictRules(ctx, tenantID)
	if err != nil {
		return errors.Wrap(err, "list conflict rules")
	}
	names := make(map[string]bool, len(existing))
	for _, r := range existing {
		names[r.Name] = true
	}

	rules := []promotion.ConflictRule{
		{
			Name:         "Percentage deals never combine",
			Type:         promotion.ConflictMutuallyExclusive,
			PromotionIDs: []string{byCode["WELCOME10"].ID, byCode["GOLDWEEKEND"].ID, byCode["SPENDMORE"].ID},
			Strategy:     promotion.StrategyHighestDiscount,
		},
		{
			Name:         "At most two basket deals",
			Type:         promotion.ConflictStackLimit,
			PromotionIDs: []string{byCode["FIVEOFF"].ID, byCode["SHOES3FOR2"].ID, byCode["SPENDMORE"].ID},
			Strategy:     promotion.StrategyHighestPriority,
			Rules:        promotion.ResolutionRules{MaxStack: 2},
		},
	}
	for _, r := range rules {
		if names[r.Name] {
			lg.Info("Conflict rule exists", zap.String("name", r.Name))
			continue
		}
		r.TenantID = tenantID
		r.Active = true
		if _, err := svc.CreateConflictRule(ctx, r); err != nil {
			return errors.Wrapf(err, "create conflict rule %q", r.Name)
		}
		lg.Info("Conflict rule created", zap.String("name", r.Name))
	}
	return nil
}
