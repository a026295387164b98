package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/InnokentiyKim/Retail/internal/domain/coupon"
	"github.com/InnokentiyKim/Retail/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
)

// Sink stores a batch of coupons.
type Sink interface {
	UpsertBatch(ctx context.Context, coupons []coupon.Coupon) error
}

type stats struct {
	written    int
	duplicates int
	invalid    int
}

func main() {
	var (
		pattern     string
		databaseURL string
		batchSize   int
		capacity    uint
	)

	flag.StringVar(&pattern, "files", "data/coupons*.gz", "glob of gzip coupon files with code;discount;from;to lines")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&batchSize, "batch-size", 1000, "coupons per upsert batch")
	flag.UintVar(&capacity, "expected-codes", 1_000_000, "expected number of codes per file, sizes the bloom filters")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, pattern, databaseURL, batchSize, capacity); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, pattern, databaseURL string, batchSize int, capacity uint) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrapf(err, "glob %s", pattern)
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %s", pattern)
	}
	sort.Strings(files)

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	st, err := ingest(ctx, files, postgres.NewCouponRepository(pool), batchSize, capacity)
	if err != nil {
		return err
	}
	slog.Info("ingest summary",
		slog.Int("files", len(files)),
		slog.Int("written", st.written),
		slog.Int("duplicates", st.duplicates),
		slog.Int("invalid", st.invalid),
	)
	return nil
}

// ingest loads files into sink. The first occurrence of a code wins, in
// file order then line order.
//
// Pass 1 builds one bloom filter per file concurrently and remembers codes
// repeated within a file. Pass 2 streams the files in order; only codes
// that may occur more than once are tracked exactly.
func ingest(ctx context.Context, files []string, sink Sink, batchSize int, capacity uint) (stats, error) {
	var st stats
	if batchSize <= 0 {
		batchSize = 1000
	}

	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))
	filters := make([]*bloom.BloomFilter, len(files))
	repeated := make([]map[string]struct{}, len(files))
	g, gCtx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(max(capacity, 1), bloomFPR)
			rep := make(map[string]struct{})
			var count int
			if err := streamGzFile(gCtx, path, func(line string) {
				code, ok := codeOf(line)
				if !ok {
					return
				}
				if filter.TestAndAddString(code) {
					rep[code] = struct{}{}
				}
				if count++; count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.String("file", path), slog.Int("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}
			filters[i], repeated[i] = filter, rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return st, err
	}

	slog.Info("pass 2: writing coupons")
	seen := make(map[string]struct{})
	batch := make([]coupon.Coupon, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := sink.UpsertBatch(ctx, batch); err != nil {
			return errors.Wrap(err, "upsert batch")
		}
		st.written += len(batch)
		batch = batch[:0]
		return nil
	}

	for i, path := range files {
		var (
			lineNo  int
			sinkErr error
		)
		err := streamGzFile(ctx, path, func(line string) {
			lineNo++
			if sinkErr != nil || strings.TrimSpace(line) == "" {
				return
			}
			c, err := parseRecord(line)
			if err != nil {
				st.invalid++
				slog.Warn("skipping invalid line",
					slog.String("file", path),
					slog.Int("line", lineNo),
					slog.String("error", err.Error()),
				)
				return
			}
			if mayRepeat(c.Code, i, filters, repeated) {
				if _, dup := seen[c.Code]; dup {
					st.duplicates++
					return
				}
				seen[c.Code] = struct{}{}
			}
			batch = append(batch, c)
			if len(batch) == batchSize {
				sinkErr = flush()
			}
		})
		if sinkErr != nil {
			return st, sinkErr
		}
		if err != nil {
			return st, errors.Wrapf(err, "read %s", path)
		}
	}
	if err := flush(); err != nil {
		return st, err
	}
	return st, nil
}

// mayRepeat reports whether code can occur elsewhere in the input besides
// its current position in file idx.
func mayRepeat(code string, idx int, filters []*bloom.BloomFilter, repeated []map[string]struct{}) bool {
	if _, ok := repeated[idx][code]; ok {
		return true
	}
	for j, f := range filters {
		if j != idx && f.TestString(code) {
			return true
		}
	}
	return false
}

func codeOf(line string) (string, bool) {
	code, _, ok := strings.Cut(line, fieldSep)
	code = strings.ToUpper(strings.TrimSpace(code))
	return code, ok && code != ""
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line string)) error {
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
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
