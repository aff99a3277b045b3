package epss

import (
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/rshade/epsscache/internal/engine/cache"
)

// ScopeTimeSeries requests the score history for each CVE.
const ScopeTimeSeries = "time-series"

// Top defaults.
const (
	DefaultTopLimit = 100
	DefaultTopOrder = "!epss"
)

// Params are the query parameters accepted by the EPSS API. Zero values are
// omitted from the request.
type Params struct {
	CVEs                  []string
	Date                  string
	Scope                 string
	Order                 string
	EPSSGreaterThan       *float64
	PercentileGreaterThan *float64
	Limit                 *int
	Offset                *int
	Envelope              bool
	Pretty                bool
	Extra                 map[string]string
}

// Values encodes p as URL query values.
func (p Params) Values() url.Values {
	v := url.Values{}
	if len(p.CVEs) > 0 {
		v.Set("cve", strings.Join(p.CVEs, ","))
	}
	if p.Date != "" {
		v.Set("date", p.Date)
	}
	if p.Scope != "" {
		v.Set("scope", p.Scope)
	}
	if p.Order != "" {
		v.Set("order", p.Order)
	}
	if p.EPSSGreaterThan != nil {
		v.Set("epss-gt", strconv.FormatFloat(*p.EPSSGreaterThan, 'f', -1, 64))
	}
	if p.PercentileGreaterThan != nil {
		v.Set("percentile-gt", strconv.FormatFloat(*p.PercentileGreaterThan, 'f', -1, 64))
	}
	if p.Limit != nil {
		v.Set("limit", strconv.Itoa(*p.Limit))
	}
	if p.Offset != nil {
		v.Set("offset", strconv.Itoa(*p.Offset))
	}
	if p.Envelope {
		v.Set("envelope", "true")
	}
	if p.Pretty {
		v.Set("pretty", "true")
	}
	for _, k := range slices.Sorted(maps.Keys(p.Extra)) {
		if p.Extra[k] != "" {
			v.Set(k, p.Extra[k])
		}
	}
	return v
}

// KeyParams returns the cache identity of p for the given operation.
func (p Params) KeyParams(operation string) cache.KeyParams {
	return cache.KeyParams{
		Operation:             operation,
		CVEs:                  p.CVEs,
		Date:                  p.Date,
		Scope:                 p.Scope,
		Order:                 p.Order,
		EPSSGreaterThan:       p.EPSSGreaterThan,
		PercentileGreaterThan: p.PercentileGreaterThan,
		Limit:                 p.Limit,
		Offset:                p.Offset,
		Envelope:              p.Envelope,
		Pretty:                p.Pretty,
		Extra:                 p.Extra,
	}
}

// Float returns a pointer to v, for the optional threshold fields.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for the optional pagination fields.
func Int(v int) *int { return &v }
