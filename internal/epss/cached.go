package epss

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/rshade/epsscache/internal/engine/batch"
	"github.com/rshade/epsscache/internal/engine/cache"
)

// Operation names used in cache keys.
const (
	OpQuery  = "query"
	OpGet    = "get"
	OpBatch  = "batch"
	OpTop    = "top"
	OpRecord = "record"
)

// maxConcurrentRequests bounds parallel API calls for one large batch. Each
// call carries at most batch.DefaultBatchSize CVEs.
const maxConcurrentRequests = 2

// CachedClient answers queries through a cache.Coordinator. Query, Get and Top
// cache whole responses; Batch caches one record per CVE so overlapping
// batches share entries.
type CachedClient struct {
	fetcher Fetcher
	cache   *cache.Coordinator
	chunker *batch.Processor[string]
}

// NewCachedClient wraps fetcher. A nil coordinator disables caching.
func NewCachedClient(fetcher Fetcher, coordinator *cache.Coordinator) *CachedClient {
	if coordinator == nil {
		coordinator = cache.NewCoordinator(nil, false, 0)
	}
	return &CachedClient{
		fetcher: fetcher,
		cache:   coordinator,
		chunker: batch.NewProcessorWithDefaults[string](),
	}
}

// Cache returns the coordinator.
func (c *CachedClient) Cache() *cache.Coordinator { return c.cache }

// Query runs a generic query.
func (c *CachedClient) Query(ctx context.Context, p Params, opts ...cache.LookupOption) (*Response, error) {
	return c.lookup(ctx, OpQuery, p, opts)
}

// Get returns the score for a single CVE.
func (c *CachedClient) Get(ctx context.Context, cve string, p Params, opts ...cache.LookupOption) (*Response, error) {
	p.CVEs = []string{cache.NormalizeCVE(cve)}
	return c.lookup(ctx, OpGet, p, opts)
}

// Top returns the highest scoring CVEs. Limit defaults to DefaultTopLimit and
// order to DefaultTopOrder.
func (c *CachedClient) Top(ctx context.Context, p Params, opts ...cache.LookupOption) (*Response, error) {
	if p.Limit == nil {
		p.Limit = Int(DefaultTopLimit)
	}
	if p.Order == "" {
		p.Order = DefaultTopOrder
	}
	p.CVEs = nil
	return c.lookup(ctx, OpTop, p, opts)
}

func (c *CachedClient) lookup(ctx context.Context, op string, p Params, opts []cache.LookupOption) (*Response, error) {
	payload, err := c.cache.Lookup(ctx, p.KeyParams(op), func(ctx context.Context) ([]byte, error) {
		return c.fetcher.Fetch(ctx, p)
	}, opts...)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(payload)
}

// Batch returns scores for cves. Each CVE is cached on its own; only the CVEs
// without a fresh entry are requested from the API. The result lists records in
// request order and omits CVEs the API does not know.
func (c *CachedClient) Batch(ctx context.Context, cves []string, p Params, opts ...cache.LookupOption) (*Response, error) {
	cves = dedupeCVEs(cves)

	items := make([]cache.KeyParams, len(cves))
	for i, cve := range cves {
		items[i] = recordParams(cve, p).KeyParams(OpRecord)
	}

	payloads, err := c.cache.LookupEach(ctx, items, func(ctx context.Context, missing []int) ([][]byte, error) {
		wanted := make([]string, len(missing))
		for j, idx := range missing {
			wanted[j] = cves[idx]
		}
		return c.fetchRecords(ctx, wanted, p)
	}, opts...)
	if err != nil {
		return nil, err
	}

	data := make([]Record, 0, len(payloads))
	for i, payload := range payloads {
		if payload == nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("decoding cached record for %s: %w", cves[i], err)
		}
		data = append(data, rec)
	}

	return &Response{
		Status:     "OK",
		StatusCode: http.StatusOK,
		Total:      len(data),
		Limit:      len(cves),
		Data:       data,
	}, nil
}

// fetchRecords requests cves in chunks and returns one encoded record per CVE,
// aligned with cves. CVEs missing from the response get nil.
func (c *CachedClient) fetchRecords(ctx context.Context, cves []string, p Params) ([][]byte, error) {
	var (
		mu    sync.Mutex
		byCVE = make(map[string][]byte, len(cves))
	)

	err := c.chunker.ProcessConcurrent(ctx, cves, func(ctx context.Context, chunk []string, _ int) error {
		query := Params{CVEs: chunk, Date: p.Date, Scope: p.Scope, Limit: Int(len(chunk))}
		body, err := c.fetcher.Fetch(ctx, query)
		if err != nil {
			return err
		}
		resp, err := DecodeResponse(body)
		if err != nil {
			return err
		}

		mu.Lock()
		defer mu.Unlock()
		for _, rec := range resp.Data {
			encoded, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encoding record %s: %w", rec.CVE, err)
			}
			byCVE[cache.NormalizeCVE(rec.CVE)] = encoded
		}
		return nil
	}, maxConcurrentRequests)
	if err != nil {
		return nil, err
	}

	out := make([][]byte, len(cves))
	for i, cve := range cves {
		out[i] = byCVE[cve]
	}
	return out, nil
}

// recordParams is the identity of a single batch element. Output shaping
// flags are dropped because records are reassembled locally.
func recordParams(cve string, p Params) Params {
	return Params{CVEs: []string{cve}, Date: p.Date, Scope: p.Scope}
}

func dedupeCVEs(cves []string) []string {
	seen := make(map[string]struct{}, len(cves))
	out := make([]string, 0, len(cves))
	for _, cve := range cves {
		n := cache.NormalizeCVE(cve)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
