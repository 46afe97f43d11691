// Command analytics-backfill recomputes daily analytics snapshots for a range
// of UTC days. Existing snapshots are replaced.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/analytics"
	"github.com/xenking/storefront/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		fromArg     string
		toArg       string
	)
	yesterday := analytics.Day(time.Now()).AddDate(0, 0, -1).Format(time.DateOnly)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&fromArg, "from", yesterday, "first day to aggregate (YYYY-MM-DD)")
	flag.StringVar(&toArg, "to", yesterday, "last day to aggregate, inclusive (YYYY-MM-DD)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}

	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		if databaseURL == "" {
			return errors.New("database URL is required: set --database-url or DATABASE_URL")
		}
		days, err := dayRange(fromArg, toArg)
		if err != nil {
			return err
		}
		return run(zctx.Base(ctx, lg), databaseURL, days, m)
	})
}

func run(ctx context.Context, databaseURL string, days []time.Time, m *app.Telemetry) error {
	lg := zctx.From(ctx)

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	orders := postgres.NewOrderRepository(pool)
	aggregator, err := analytics.NewAggregator(
		orders,
		postgres.NewUserRepository(pool),
		postgres.NewProductRepository(pool),
		postgres.NewSnapshotRepository(pool),
		m.MeterProvider().Meter("storefront"),
	)
	if err != nil {
		return errors.Wrap(err, "create aggregator")
	}

	lg.Info("Backfilling analytics", zap.Int("days", len(days)))
	for _, day := range days {
		if _, err := aggregator.RunForDate(ctx, day); err != nil {
			return errors.Wrapf(err, "aggregate %s", day.Format(time.DateOnly))
		}
	}
	lg.Info("Backfill complete")
	return nil
}

// dayRange returns every UTC day from from to to, both inclusive.
func dayRange(from, to string) ([]time.Time, error) {
	start, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return nil, errors.Wrap(err, "parse --from")
	}
	end, err := time.Parse(time.DateOnly, to)
	if err != nil {
		return nil, errors.Wrap(err, "parse --to")
	}
	if end.Before(start) {
		return nil, errors.Errorf("--to %s is before --from %s", to, from)
	}
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days, nil
}
