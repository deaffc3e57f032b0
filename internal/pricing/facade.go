// Package pricing is the thin external collaborator (PricingFacade) that
// turns a (period, hotel, room) request into a deterministic cache key,
// invokes the coalescing cache, and maps the cached payload to the
// response shape the HTTP layer serializes.
package pricing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/Krishna8167/pricingcache/internal/coalesce"
	"github.com/Krishna8167/pricingcache/internal/pricingapi"
	"github.com/Krishna8167/pricingcache/internal/pricingerr"
)

const keyPrefix = "pricing:"

// Request is the normalized request tuple.
type Request struct {
	Period string
	Hotel  string
	Room   string
}

// CacheKey computes "pricing:" + hex(sha256(canonical_json(r))), where
// canonicalization sorts keys and drops absent fields. encoding/json
// marshals map[string]string keys in sorted order, which gives us the
// "sorted keys" half for free; the "drop absent fields" half is the
// explicit loop below.
func CacheKey(r Request) string {
	fields := map[string]string{}
	if r.Period != "" {
		fields["period"] = r.Period
	}
	if r.Hotel != "" {
		fields["hotel"] = r.Hotel
	}
	if r.Room != "" {
		fields["room"] = r.Room
	}

	// json.Marshal never fails for map[string]string.
	canonical, _ := json.Marshal(fields)
	sum := sha256.Sum256(canonical)
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Facade is the process-wide, explicitly constructed collaborator the HTTP
// handler holds: a cache plus an upstream client, never ambient global
// state (see the design's process-wide state note).
type Facade struct {
	cache  *coalesce.Cache
	client *pricingapi.Client
}

// New builds a Facade.
func New(cache *coalesce.Cache, client *pricingapi.Client) *Facade {
	return &Facade{cache: cache, client: client}
}

// Rate fetches (through the coalescing cache) and returns the extracted
// rate for r, formatted as the response's integer-as-string.
func (f *Facade) Rate(ctx context.Context, r Request) (string, error) {
	attr := pricingapi.Attribute{Period: r.Period, Hotel: r.Hotel, Room: r.Room}
	key := CacheKey(r)

	body, err := f.cache.Fetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		return f.client.Fetch(ctx, attr)
	})
	if err != nil {
		return "", err
	}

	rateValue, err := pricingapi.ExtractRate(body, attr)
	if err != nil {
		return "", pricingerr.NewUnexpected("extract rate from cached payload", err)
	}
	return pricingapi.FormatRate(rateValue), nil
}
