package main

import (
	"bufio"
	"context"
	"log/slog"
	"math/bits"
	"os"
	"sort"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pharmacy-api/internal/domain/coupon"
)

const (
	progressEvery = 10_000_000
	// maxFeeds is bounded by the width of the per-code feed bitmask.
	maxFeeds = bits.UintSize
)

type options struct {
	Capacity          uint
	FalsePositiveRate float64
	MinFeeds          int
	MinLen, MaxLen    int
}

// ingester finds codes shared by several feeds in two streaming passes. Pass
// one builds a bloom filter per feed. Pass two re-reads every feed and keeps
// exact codes that hit another feed's filter, so memory is bounded by the
// filters plus the candidates rather than by the feed sizes.
type ingester struct {
	opts options
}

func newIngester(opts options) *ingester {
	if opts.MinFeeds < 2 {
		opts.MinFeeds = 2
	}
	return &ingester{opts: opts}
}

func (in *ingester) valid(code string) bool {
	return len(code) >= in.opts.MinLen && len(code) <= in.opts.MaxLen
}

// accepted returns the normalized codes listed by at least MinFeeds feeds,
// sorted.
func (in *ingester) accepted(ctx context.Context, files []string) ([]string, error) {
	switch {
	case len(files) < in.opts.MinFeeds:
		return nil, errors.Errorf("need at least %d feeds, found %d", in.opts.MinFeeds, len(files))
	case len(files) > maxFeeds:
		return nil, errors.Errorf("at most %d feeds supported, found %d", maxFeeds, len(files))
	}

	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters, err := in.buildFilters(ctx, files)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: finding candidate codes")

	masks, err := in.findCandidates(ctx, files, filters)
	if err != nil {
		return nil, errors.Wrap(err, "find candidates")
	}

	var codes []string
	for code, mask := range masks {
		if bits.OnesCount(mask) >= in.opts.MinFeeds {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

// buildFilters creates one bloom filter per feed, concurrently.
func (in *ingester) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(in.opts.Capacity, in.opts.FalsePositiveRate)
			var count uint64
			err := streamGzFile(ctx, path, func(code string) {
				if !in.valid(code) {
					return
				}
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.String("file", path), slog.Uint64("codes", count))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}
			slog.Info("pass 1 complete", slog.String("file", path), slog.Uint64("total_codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findCandidates re-streams each feed and records, per code, a bitmask of
// the feeds it was seen in. Only codes that test positive against another
// feed's filter are kept. Bloom false positives are removed by the merge,
// which counts exact sightings.
func (in *ingester) findCandidates(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]uint, error) {
	results := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			bit := uint(1) << uint(i)
			err := streamGzFile(ctx, path, func(code string) {
				if !in.valid(code) {
					return
				}
				for j, f := range filters {
					if j != i && f.TestString(code) {
						candidates[code] |= bit
						return
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s for candidates", path)
			}
			slog.Info("pass 2 complete", slog.String("file", path), slog.Int("candidates", len(candidates)))
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
	return merged, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each normalized,
// non-empty line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
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
		if code := coupon.NormalizeCode(scanner.Text()); code != "" && !strings.HasPrefix(code, "#") {
			fn(code)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
