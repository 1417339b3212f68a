// Command coupon-ingest bulk-loads coupon codes into a tenant's registry.
//
// Code shards arrive as gzip-compressed files of one code per line, produced
// by partner campaign exports. A code is trusted only when it appears in two
// or more shards; single-shard codes are treated as export noise. The tool
// streams each shard twice: pass 1 builds one bloom filter per shard, pass 2
// collects codes that hit another shard's filter, then the survivors are
// upserted with their discount rules.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/tenantly/coupon-engine/internal/domain/coupon"
	"github.com/tenantly/coupon-engine/internal/repository"
)

const (
	bloomCapacity = 120_000_000
	bloomFPR      = 0.001
	progressEvery = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 10
)

// rule describes the discount applied to an ingested code. Codes without an
// entry in the rules file get defaultRule.
type rule struct {
	typ         coupon.Type
	value       decimal.Decimal
	description string
	minPurchase *decimal.Decimal
	maxDiscount *decimal.Decimal
}

var defaultRule = rule{
	typ:         coupon.TypePercent,
	value:       decimal.NewFromInt(10),
	description: "Imported promo code: 10% off",
}

// shardResult holds candidate codes found in a single shard during pass 2.
type shardResult struct {
	candidates map[string]uint
}

func main() {
	var (
		dataDir     string
		shards      int
		rulesFile   string
		tenantID    string
		validity    time.Duration
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing couponbaseN.gz shard files")
	flag.IntVar(&shards, "shards", 3, "number of shard files")
	flag.StringVar(&rulesFile, "rules-file", "", "optional JSON-lines file of per-code discount rules")
	flag.StringVar(&tenantID, "tenant", "", "tenant to load the codes into")
	flag.DurationVar(&validity, "validity", 0, "coupon validity from now (default one year)")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if tenantID == "" {
		slog.Error("tenant is required: set --tenant")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, shards, rulesFile, tenantID, validity, databaseURL); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, dataDir string, shards int, rulesFile, tenantID string, validity time.Duration, databaseURL string) error {
	files := make([]string, shards)
	for i := range shards {
		files[i] = filepath.Join(dataDir, fmt.Sprintf("couponbase%d.gz", i+1))
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check shard %s", f)
		}
	}

	rules := map[string]rule{}
	if rulesFile != "" {
		var err error
		if rules, err = loadRules(rulesFile); err != nil {
			return errors.Wrap(err, "load rules")
		}
		slog.Info("rules loaded", slog.Int("count", len(rules)))
	}

	slog.Info("pass 1: building bloom filters", slog.Int("shards", shards))

	filters, err := buildBloomFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: finding candidate codes")

	validCodes, err := findValidCodes(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "find valid codes")
	}

	slog.Info("valid codes found", slog.Int("count", len(validCodes)))
	if len(validCodes) == 0 {
		slog.Info("no valid codes to insert")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := repository.NewCouponRepository(pool)
	if err := writeCoupons(ctx, repo, tenantID, validCodes, rules, validity); err != nil {
		return errors.Wrap(err, "write coupons to database")
	}
	return nil
}

// loadRules parses a JSON-lines rules file. Each line is an object:
//
//	{"code":"FIFTYOFF","type":"PERCENT","value":50,"description":"Half off","maxDiscountAmount":25}
func loadRules(path string) (map[string]rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	rules := make(map[string]rule)
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		code, r, err := parseRule([]byte(text))
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		rules[coupon.NormalizeCode(code)] = r
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "scan %s", path)
	}
	return rules, nil
}

func parseRule(data []byte) (string, rule, error) {
	var (
		code string
		r    = defaultRule
	)
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			v, err := d.Str()
			if err != nil {
				return err
			}
			code = v
		case "type":
			v, err := d.Str()
			if err != nil {
				return err
			}
			r.typ = coupon.Type(v)
		case "value":
			v, err := d.Float64()
			if err != nil {
				return err
			}
			r.value = decimal.NewFromFloat(v)
		case "description":
			v, err := d.Str()
			if err != nil {
				return err
			}
			r.description = v
		case "minPurchaseAmount":
			v, err := d.Float64()
			if err != nil {
				return err
			}
			dec := decimal.NewFromFloat(v)
			r.minPurchase = &dec
		case "maxDiscountAmount":
			v, err := d.Float64()
			if err != nil {
				return err
			}
			dec := decimal.NewFromFloat(v)
			r.maxDiscount = &dec
		default:
			return d.Skip()
		}
		return nil
	}); err != nil {
		return "", rule{}, errors.Wrap(err, "parse rule object")
	}
	if code == "" {
		return "", rule{}, errors.New("rule is missing a code")
	}
	return code, r, nil
}

// buildBloomFilters creates one bloom filter per shard, concurrently.
func buildBloomFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(buildFilterForShard(ctx, i, f, filters))
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

func buildFilterForShard(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		var count uint64

		if err := streamGzFile(ctx, path, func(code string) {
			if len(code) >= minCodeLen && len(code) <= maxCodeLen {
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress",
						slog.Int("shard", idx+1),
						slog.Uint64("codes", count),
					)
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "build filter for shard %d", idx+1)
		}

		slog.Info("pass 1 complete",
			slog.Int("shard", idx+1),
			slog.Uint64("total_codes", count),
		)

		filters[idx] = filter
		return nil
	}
}

// findValidCodes re-streams each shard and checks codes against OTHER shards'
// bloom filters. A code is valid when it appears in 2 or more shards.
func findValidCodes(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]string, error) {
	results := make([]shardResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(findCandidatesInShard(ctx, i, f, filters, results))
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge per-shard bitmasks.
	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r.candidates {
			merged[code] |= mask
		}
	}

	var valid []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			valid = append(valid, code)
		}
	}
	return valid, nil
}

func findCandidatesInShard(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	results []shardResult,
) func() error {
	return func() error {
		candidates := make(map[string]uint)
		shardBit := uint(1) << uint(idx)
		var count uint64

		if err := streamGzFile(ctx, path, func(code string) {
			if len(code) < minCodeLen || len(code) > maxCodeLen {
				return
			}

			count++
			if count%progressEvery == 0 {
				slog.Info("pass 2 progress",
					slog.Int("shard", idx+1),
					slog.Uint64("codes", count),
				)
			}

			for j, f := range filters {
				if j == idx {
					continue
				}
				if f.TestString(code) {
					candidates[code] |= shardBit
					break
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "scan shard %d for candidates", idx+1)
		}

		slog.Info("pass 2 complete",
			slog.Int("shard", idx+1),
			slog.Uint64("total_codes", count),
			slog.Int("candidates", len(candidates)),
		)

		results[idx] = shardResult{candidates: candidates}
		return nil
	}
}

// streamGzFile opens a gzip-compressed shard and calls fn for each line.
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
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// writeCoupons upserts all valid codes into the tenant's registry.
func writeCoupons(
	ctx context.Context,
	repo *repository.CouponRepository,
	tenantID string,
	codes []string,
	rules map[string]rule,
	validity time.Duration,
) error {
	slog.Info("writing coupons to database", slog.Int("count", len(codes)))

	var expiresAt time.Time
	if validity > 0 {
		expiresAt = time.Now().Add(validity)
	}

	for i, code := range codes {
		r, ok := rules[coupon.NormalizeCode(code)]
		if !ok {
			r = defaultRule
		}

		if err := repo.Upsert(ctx, coupon.Spec{
			TenantID:    tenantID,
			Code:        code,
			Type:        r.typ,
			Value:       r.value,
			Description: r.description,
			MinPurchase: r.minPurchase,
			MaxDiscount: r.maxDiscount,
			Active:      true,
			ExpiresAt:   expiresAt,
		}); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", code)
		}

		if (i+1)%10_000 == 0 {
			slog.Info("write progress", slog.Int("written", i+1))
		}
	}
	return nil
}
