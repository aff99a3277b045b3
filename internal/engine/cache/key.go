package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// DefaultKeyPrefix namespaces every key produced by GenerateKey.
const DefaultKeyPrefix = "epss"

// currentDateSuffix marks keys for queries without an explicit score date.
const currentDateSuffix = "current"

// defaultOperation is used when KeyParams.Operation is blank.
const defaultOperation = "query"

// KeyParams holds the query parameters that identify a cacheable lookup.
// Zero values mean "absent" and are omitted from the key.
type KeyParams struct {
	// Prefix namespaces the key; DefaultKeyPrefix when empty.
	Prefix string

	// Operation names the query shape (query, get, batch, top, record).
	Operation string

	// CVEs lists the requested identifiers. Order and case do not matter.
	CVEs []string

	// Date is the score date (YYYY-MM-DD).
	Date string

	// Scope selects the result scope, e.g. "time-series".
	Scope string

	// Order is the sort expression, e.g. "!epss".
	Order string

	// EPSSGreaterThan filters by score threshold.
	EPSSGreaterThan *float64

	// PercentileGreaterThan filters by percentile threshold.
	PercentileGreaterThan *float64

	// Limit and Offset paginate the result.
	Limit  *int
	Offset *int

	// Envelope and Pretty change the response shape and are part of the identity.
	Envelope bool
	Pretty   bool

	// Extra carries parameters the builder does not recognize. They are
	// included verbatim, so two queries differing only in extras get different
	// keys. Blank names and empty values are dropped.
	Extra map[string]string
}

// canonicalKey is the normalized form hashed by GenerateKey.
// Field order is fixed by the struct, which keeps the JSON encoding deterministic.
type canonicalKey struct {
	Operation    string            `json:"op,omitempty"`
	CVEs         []string          `json:"cve,omitempty"`
	Date         string            `json:"date,omitempty"`
	Scope        string            `json:"scope,omitempty"`
	Order        string            `json:"order,omitempty"`
	EPSSGt       string            `json:"epss_gt,omitempty"`
	PercentileGt string            `json:"percentile_gt,omitempty"`
	Limit        string            `json:"limit,omitempty"`
	Offset       string            `json:"offset,omitempty"`
	Envelope     bool              `json:"envelope,omitempty"`
	Pretty       bool              `json:"pretty,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// GenerateKey derives a deterministic cache key from params.
// The key has the form "<prefix>:<operation>:<sha256>:<date|current>".
func GenerateKey(params KeyParams) (string, error) {
	canon := normalize(params)

	data, err := json.Marshal(canon)
	if err != nil {
		return "", fmt.Errorf("failed to encode key params: %w", err)
	}

	sum := sha256.Sum256(data)

	prefix := strings.TrimSpace(params.Prefix)
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	op := canon.Operation
	date := canon.Date
	if date == "" {
		date = currentDateSuffix
	}

	return prefix + ":" + op + ":" + hex.EncodeToString(sum[:]) + ":" + date, nil
}

// MustGenerateKey is GenerateKey for params known to encode; it panics otherwise.
func MustGenerateKey(params KeyParams) string {
	key, err := GenerateKey(params)
	if err != nil {
		panic(err)
	}
	return key
}

// NormalizeCVE trims and upper-cases a CVE identifier.
func NormalizeCVE(cve string) string {
	return strings.ToUpper(strings.TrimSpace(cve))
}

func normalize(p KeyParams) canonicalKey {
	op := strings.ToLower(strings.TrimSpace(p.Operation))
	if op == "" {
		op = defaultOperation
	}

	c := canonicalKey{
		Operation: op,
		Date:      strings.TrimSpace(p.Date),
		Scope:     strings.ToLower(strings.TrimSpace(p.Scope)),
		Order:     strings.ToLower(strings.TrimSpace(p.Order)),
		Envelope:  p.Envelope,
		Pretty:    p.Pretty,
	}

	if len(p.CVEs) > 0 {
		cves := make([]string, 0, len(p.CVEs))
		for _, cve := range p.CVEs {
			if n := NormalizeCVE(cve); n != "" {
				cves = append(cves, n)
			}
		}
		slices.Sort(cves)
		c.CVEs = slices.Compact(cves)
	}

	if p.EPSSGreaterThan != nil {
		c.EPSSGt = strconv.FormatFloat(*p.EPSSGreaterThan, 'g', -1, 64)
	}
	if p.PercentileGreaterThan != nil {
		c.PercentileGt = strconv.FormatFloat(*p.PercentileGreaterThan, 'g', -1, 64)
	}
	if p.Limit != nil {
		c.Limit = strconv.Itoa(*p.Limit)
	}
	if p.Offset != nil {
		c.Offset = strconv.Itoa(*p.Offset)
	}

	if len(p.Extra) > 0 {
		c.Extra = make(map[string]string, len(p.Extra))
		// Keys are kept as given so that "a" and " a" never share a slot.
		for k, v := range p.Extra {
			if strings.TrimSpace(k) == "" || v == "" {
				continue
			}
			c.Extra[k] = v
		}
		if len(c.Extra) == 0 {
			c.Extra = nil
		}
	}

	return c
}

// KeyParamsBuilder provides a fluent interface for building KeyParams.
type KeyParamsBuilder struct {
	params KeyParams
}

// NewKeyParamsBuilder creates a builder for the given operation.
func NewKeyParamsBuilder(operation string) *KeyParamsBuilder {
	return &KeyParamsBuilder{params: KeyParams{Operation: operation}}
}

// WithPrefix sets the key namespace.
func (b *KeyParamsBuilder) WithPrefix(prefix string) *KeyParamsBuilder {
	b.params.Prefix = prefix
	return b
}

// WithCVEs appends CVE identifiers.
func (b *KeyParamsBuilder) WithCVEs(cves ...string) *KeyParamsBuilder {
	b.params.CVEs = append(b.params.CVEs, cves...)
	return b
}

// WithDate sets the score date.
func (b *KeyParamsBuilder) WithDate(date string) *KeyParamsBuilder {
	b.params.Date = date
	return b
}

// WithScope sets the result scope.
func (b *KeyParamsBuilder) WithScope(scope string) *KeyParamsBuilder {
	b.params.Scope = scope
	return b
}

// WithOrder sets the sort expression.
func (b *KeyParamsBuilder) WithOrder(order string) *KeyParamsBuilder {
	b.params.Order = order
	return b
}

// WithEPSSGreaterThan sets the score threshold.
func (b *KeyParamsBuilder) WithEPSSGreaterThan(v float64) *KeyParamsBuilder {
	b.params.EPSSGreaterThan = &v
	return b
}

// WithPercentileGreaterThan sets the percentile threshold.
func (b *KeyParamsBuilder) WithPercentileGreaterThan(v float64) *KeyParamsBuilder {
	b.params.PercentileGreaterThan = &v
	return b
}

// WithPagination sets limit and offset.
func (b *KeyParamsBuilder) WithPagination(limit, offset int) *KeyParamsBuilder {
	b.params.Limit = &limit
	b.params.Offset = &offset
	return b
}

// WithEnvelope marks the query as requesting the response envelope.
func (b *KeyParamsBuilder) WithEnvelope(envelope bool) *KeyParamsBuilder {
	b.params.Envelope = envelope
	return b
}

// WithPretty marks the query as requesting pretty-printed output.
func (b *KeyParamsBuilder) WithPretty(pretty bool) *KeyParamsBuilder {
	b.params.Pretty = pretty
	return b
}

// WithExtra adds an unrecognized parameter that is hashed verbatim.
func (b *KeyParamsBuilder) WithExtra(key, value string) *KeyParamsBuilder {
	if b.params.Extra == nil {
		b.params.Extra = make(map[string]string)
	}
	b.params.Extra[key] = value
	return b
}

// Build generates the cache key.
func (b *KeyParamsBuilder) Build() (string, error) {
	return GenerateKey(b.params)
}

// BuildParams returns the accumulated parameters.
func (b *KeyParamsBuilder) BuildParams() KeyParams {
	return b.params
}
