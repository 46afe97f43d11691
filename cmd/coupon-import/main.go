package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 10_000
	maxFiles      = 64
)

// columns every import file must carry in its header row. Optional columns:
// min_order, max_uses, valid_from, valid_until, categories, description.
var requiredColumns = []string{"code", "type", "value"}

// Upserter stores one coupon definition.
type Upserter interface {
	Upsert(ctx context.Context, c coupon.Coupon) error
}

func main() {
	var (
		databaseURL string
		capacity    uint
		workers     int
		dryRun      bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&capacity, "expected-codes", 1_000_000, "expected number of codes per file, sizes the bloom filters")
	flag.IntVar(&workers, "workers", 4, "files imported concurrently")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and de-duplicate without writing")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		slog.Error("usage: coupon-import [flags] coupons1.csv.gz [coupons2.csv.gz ...]")
		os.Exit(1)
	}
	if len(files) > maxFiles {
		slog.Error("too many files", slog.Int("max", maxFiles))
		os.Exit(1)
	}

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, files, databaseURL, capacity, workers, dryRun); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, files []string, databaseURL string, capacity uint, workers int, dryRun bool) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	// Pass 1: one bloom filter of codes per file.
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters, err := buildBloomFilters(ctx, files, capacity)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: exact file sets of codes the filters flag as shared.
	slog.Info("pass 2: resolving codes present in several files")

	shared, err := findSharedCodes(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "find shared codes")
	}

	slog.Info("shared codes found", slog.Int("count", len(shared)))

	var store Upserter = discard{}
	if !dryRun {
		slog.Info("connecting to database")

		pool, err := postgres.NewPool(ctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		store = postgres.NewCouponRepository(pool)
	}

	// Pass 3: upsert, skipping codes that a later file redefines.
	written, err := importFiles(ctx, files, shared, store, workers)
	if err != nil {
		return errors.Wrap(err, "import coupons")
	}

	slog.Info("coupons written", slog.Int64("count", written), slog.Bool("dry_run", dryRun))
	return nil
}

type discard struct{}

func (discard) Upsert(context.Context, coupon.Coupon) error { return nil }

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string, capacity uint) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(capacity, bloomFPR)
			var count int
			err := streamCoupons(ctx, path, func(c coupon.Coupon) error {
				filter.AddString(c.Code)
				count++
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}
			slog.Info("pass 1 complete", slog.String("file", path), slog.Int("codes", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findSharedCodes returns, for every code the filters suggest appears in more
// than one file, the bitmask of files that actually contain it. A code present
// in file j also tests positive in the filter of every other file holding it,
// so each holder records its own bit.
func findSharedCodes(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]uint64, error) {
	candidates := make([]map[string]struct{}, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			found := make(map[string]struct{})
			err := streamCoupons(ctx, path, func(c coupon.Coupon) error {
				for j, f := range filters {
					if j != i && f.TestString(c.Code) {
						found[c.Code] = struct{}{}
						break
					}
				}
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s for shared codes", path)
			}
			candidates[i] = found
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	masks := make(map[string]uint64)
	for i, found := range candidates {
		for code := range found {
			masks[code] |= 1 << uint(i)
		}
	}
	for code, mask := range masks {
		// Bloom false positive: only one file really has it.
		if mask&(mask-1) == 0 {
			delete(masks, code)
		}
	}
	return masks, nil
}

// shadowed reports whether a file after idx also defines code, in which case
// that later definition wins.
func shadowed(shared map[string]uint64, code string, idx int) bool {
	mask, ok := shared[code]
	if !ok {
		return false
	}
	return mask>>(uint(idx)+1) != 0
}

func importFiles(ctx context.Context, files []string, shared map[string]uint64, store Upserter, workers int) (int64, error) {
	counts := make([]int64, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, path := range files {
		g.Go(func() error {
			err := streamCoupons(ctx, path, func(c coupon.Coupon) error {
				if shadowed(shared, c.Code, i) {
					return nil
				}
				if err := store.Upsert(ctx, c); err != nil {
					return errors.Wrapf(err, "upsert coupon %s", c.Code)
				}
				counts[i]++
				if counts[i]%progressEvery == 0 {
					slog.Info("import progress", slog.String("file", path), slog.Int64("written", counts[i]))
				}
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "import %s", path)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	return total, nil
}

// streamCoupons opens a gzip-compressed CSV file and calls fn for each row.
func streamCoupons(ctx context.Context, path string, fn func(coupon.Coupon) error) error {
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

	return readCoupons(ctx, gz, fn)
}

func readCoupons(ctx context.Context, r io.Reader, fn func(coupon.Coupon) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return errors.Wrap(err, "read header")
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return errors.Errorf("missing column %q", col)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read record")
		}
		line, _ := cr.FieldPos(0)

		field := func(name string) string {
			i, ok := index[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}
		c, err := parseCoupon(field)
		if err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
		if err := fn(c); err != nil {
			return err
		}
	}
}

func parseCoupon(field func(string) string) (coupon.Coupon, error) {
	c := coupon.Coupon{
		Code:        strings.ToUpper(field("code")),
		Type:        coupon.Type(strings.ToLower(field("type"))),
		Description: field("description"),
		IsActive:    true,
	}
	if c.Code == "" {
		return c, errors.New("empty code")
	}
	if !c.Type.Valid() {
		return c, errors.Errorf("code %s: unknown type %q", c.Code, c.Type)
	}

	var err error
	if c.Value, err = parseAmount(field("value")); err != nil {
		return c, errors.Wrapf(err, "code %s: value", c.Code)
	}
	if c.MinOrder, err = parseAmount(field("min_order")); err != nil {
		return c, errors.Wrapf(err, "code %s: min_order", c.Code)
	}
	if s := field("max_uses"); s != "" {
		if c.MaxUses, err = strconv.Atoi(s); err != nil || c.MaxUses < 0 {
			return c, errors.Errorf("code %s: invalid max_uses %q", c.Code, s)
		}
	}
	if c.ValidFrom, err = parseTime(field("valid_from")); err != nil {
		return c, errors.Wrapf(err, "code %s: valid_from", c.Code)
	}
	if c.ValidUntil, err = parseTime(field("valid_until")); err != nil {
		return c, errors.Wrapf(err, "code %s: valid_until", c.Code)
	}
	if s := field("categories"); s != "" {
		for cat := range strings.SplitSeq(s, "|") {
			if cat = strings.TrimSpace(cat); cat != "" {
				c.ApplicableCategories = append(c.ApplicableCategories, cat)
			}
		}
	}
	return c, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, errors.Errorf("negative amount %s", s)
	}
	return d, nil
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		if t, err = time.Parse(time.DateOnly, s); err != nil {
			return nil, err
		}
	}
	t = t.UTC()
	return &t, nil
}
