// Command coupon-import bulk-loads coupon codes for one promotion from
// gzip-compressed batch files. Each line holds a code, optionally followed by
// a comma and the id of the customer the coupon is assigned to.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		tenantID    string
		promotionID string
		workers     int
		expected    uint
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&tenantID, "tenant", "", "tenant owning the promotion")
	flag.StringVar(&promotionID, "promotion", "", "promotion the coupons redeem")
	flag.IntVar(&workers, "workers", 8, "concurrent coupon inserts")
	flag.UintVar(&expected, "expected", 10_000_000, "expected codes per file, sizes the bloom filters")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" || tenantID == "" || promotionID == "" || flag.NArg() == 0 {
		lg.Fatal("Usage: coupon-import --database-url URL --tenant ID --promotion ID FILE.gz...")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg := importConfig{
		tenantID:    tenantID,
		promotionID: promotionID,
		workers:     workers,
		expected:    expected,
	}
	if err := run(ctx, lg, databaseURL, cfg, flag.Args()); err != nil {
		lg.Fatal("Coupon import failed", zap.Error(err))
	}
	lg.Info("Coupon import completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, cfg importConfig, files []string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	svc, err := promotion.NewService(postgres.NewPromotionRepository(pool), promotion.WithLogger(lg))
	if err != nil {
		return errors.Wrap(err, "create promotion service")
	}

	p, err := svc.GetPromotion(ctx, cfg.promotionID)
	if err != nil {
		return errors.Wrap(err, "load promotion")
	}
	if p.TenantID != cfg.tenantID {
		return errors.Wrapf(promotion.ErrPromotionNotFound, "promotion %s in tenant %s", cfg.promotionID, cfg.tenantID)
	}

	st, err := newImporter(svc, cfg, lg).Import(ctx, files)
	if err != nil {
		return err
	}
	lg.Info("Import summary",
		zap.Int64("created", st.Created.Load()),
		zap.Int64("existing", st.Existing.Load()),
		zap.Int64("cross_file_duplicates", st.CrossFile.Load()),
		zap.Int64("invalid", st.Invalid.Load()),
	)
	return nil
}
