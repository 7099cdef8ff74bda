package main

import (
	"bufio"
	"context"
	"math/bits"
	"os"
	"strings"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/promo-engine/internal/domain/promotion"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	maxCodeLen    = 64
	// maxFiles is bounded by the width of the file bitmask.
	maxFiles = bits.UintSize
)

// couponCreator is satisfied by *promotion.Service.
type couponCreator interface {
	CreateCoupon(ctx context.Context, c promotion.Coupon) (*promotion.Coupon, error)
}

type importConfig struct {
	tenantID    string
	promotionID string
	workers     int
	expected    uint
}

// entry is one parsed line.
type entry struct {
	code     string
	customer string
}

// parseLine reads "CODE" or "CODE,customer". Blank lines, comments and
// oversized codes are skipped.
func parseLine(line string) (entry, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return entry{}, false
	}
	code, customer, _ := strings.Cut(line, ",")
	code = promotion.NormalizeCode(code)
	if code == "" || len(code) > maxCodeLen {
		return entry{}, false
	}
	return entry{code: code, customer: strings.TrimSpace(customer)}, true
}

// importStats counts outcomes. Fields are updated by concurrent workers.
type importStats struct {
	Created   atomic.Int64
	Existing  atomic.Int64
	CrossFile atomic.Int64
	Invalid   atomic.Int64
}

type importer struct {
	svc couponCreator
	cfg importConfig
	lg  *zap.Logger
}

func newImporter(svc couponCreator, cfg importConfig, lg *zap.Logger) *importer {
	if cfg.workers < 1 {
		cfg.workers = 1
	}
	if cfg.expected == 0 {
		cfg.expected = 1_000_000
	}
	return &importer{svc: svc, cfg: cfg, lg: lg}
}

// Import loads every file. A code present in several files is imported from
// the first file that lists it; later occurrences are counted as cross-file
// duplicates.
func (im *importer) Import(ctx context.Context, files []string) (*importStats, error) {
	if len(files) > maxFiles {
		return nil, errors.Errorf("too many files: %d (max %d)", len(files), maxFiles)
	}

	im.lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters, err := im.buildFilters(ctx, files)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	im.lg.Info("Pass 2: resolving codes shared between files")
	owner, err := im.sharedCodes(ctx, files, filters)
	if err != nil {
		return nil, errors.Wrap(err, "find shared codes")
	}
	im.lg.Info("Shared codes resolved", zap.Int("count", len(owner)))

	st := &importStats{}
	for i, f := range files {
		if err := im.importFile(ctx, i, f, owner, st); err != nil {
			return st, errors.Wrapf(err, "import %s", f)
		}
	}
	return st, nil
}

// buildFilters creates one bloom filter per file, concurrently.
func (im *importer) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(im.cfg.expected, bloomFPR)
			var count int
			if err := streamGzFile(ctx, path, func(e entry) error {
				filter.AddString(e.code)
				count++
				return nil
			}); err != nil {
				return err
			}
			im.lg.Info("Pass 1 file complete", zap.String("file", path), zap.Int("codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// sharedCodes returns, for every code confirmed in two or more files, the
// index of the first file containing it. Bloom filters only nominate
// candidates; the file bitmask confirms them exactly.
func (im *importer) sharedCodes(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]int, error) {
	results := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			fileBit := uint(1) << uint(i)
			if err := streamGzFile(ctx, path, func(e entry) error {
				for j, f := range filters {
					if j != i && f.TestString(e.code) {
						candidates[e.code] |= fileBit
						break
					}
				}
				return nil
			}); err != nil {
				return err
			}
			results[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r {
			merged[code] |= mask
		}
	}
	owner := make(map[string]int)
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			owner[code] = bits.TrailingZeros(mask)
		}
	}
	return owner, nil
}

func (im *importer) importFile(ctx context.Context, idx int, path string, owner map[string]int, st *importStats) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.cfg.workers)

	var seen int
	err := streamGzFile(gctx, path, func(e entry) error {
		seen++
		if seen%progressEvery == 0 {
			im.lg.Info("Import progress", zap.String("file", path), zap.Int("lines", seen))
		}
		if first, ok := owner[e.code]; ok && first != idx {
			st.CrossFile.Add(1)
			return nil
		}
		g.Go(func() error { return im.create(gctx, e, st) })
		return nil
	})
	if werr := g.Wait(); werr != nil {
		return werr
	}
	return err
}

func (im *importer) create(ctx context.Context, e entry, st *importStats) error {
	_, err := im.svc.CreateCoupon(ctx, promotion.Coupon{
		TenantID:    im.cfg.tenantID,
		PromotionID: im.cfg.promotionID,
		Code:        e.code,
		AssignedTo:  e.customer,
	})
	var ve *promotion.ValidationError
	switch {
	case err == nil:
		st.Created.Add(1)
	case errors.Is(err, promotion.ErrDuplicateCode):
		st.Existing.Add(1)
	case errors.As(err, &ve):
		st.Invalid.Add(1)
		im.lg.Warn("Coupon rejected", zap.String("code", e.code), zap.Error(err))
	default:
		return errors.Wrapf(err, "create coupon %s", e.code)
	}
	return nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each parsed
// line.
func streamGzFile(ctx context.Context, path string, fn func(e entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
