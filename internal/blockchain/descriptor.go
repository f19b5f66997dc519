package blockchain

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

const (
	// Unknown marks a name or symbol no endpoint could resolve
	Unknown         = "Unknown"
	DefaultDecimals = 18

	defaultDescriptorTimeout = 10 * time.Second
)

// Descriptor identifies a token's display and scaling semantics
type Descriptor struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// UnknownDescriptor is the terminal state when no call variant succeeds
func UnknownDescriptor() Descriptor {
	return Descriptor{Name: Unknown, Symbol: Unknown, Decimals: DefaultDecimals}
}

// IsUnknown reports whether the name or the symbol could not be resolved
func (d Descriptor) IsUnknown() bool {
	return d.Name == Unknown || d.Symbol == Unknown
}

// DescriptorCache holds resolved descriptors keyed by lower-cased token address.
// Entries live until Delete or Clear.
type DescriptorCache struct {
	items *cache.Cache
}

// NewDescriptorCache creates an empty cache
func NewDescriptorCache() *DescriptorCache {
	return &DescriptorCache{items: cache.New(cache.NoExpiration, 0)}
}

func cacheKey(token string) string {
	return strings.ToLower(strings.TrimSpace(token))
}

// Get returns the cached descriptor for token
func (c *DescriptorCache) Get(token string) (Descriptor, bool) {
	v, ok := c.items.Get(cacheKey(token))
	if !ok {
		return Descriptor{}, false
	}
	return v.(Descriptor), true
}

// Set stores d for token
func (c *DescriptorCache) Set(token string, d Descriptor) {
	c.items.Set(cacheKey(token), d, cache.NoExpiration)
}

// Delete evicts token
func (c *DescriptorCache) Delete(token string) {
	c.items.Delete(cacheKey(token))
}

// Clear evicts everything
func (c *DescriptorCache) Clear() {
	c.items.Flush()
}

// Len returns the number of cached descriptors
func (c *DescriptorCache) Len() int {
	return c.items.ItemCount()
}

// Resolver reads token descriptors through a cache
type Resolver struct {
	cache   *DescriptorCache
	pool    *Pool
	group   singleflight.Group
	timeout time.Duration
	logger  *slog.Logger
}

// NewResolver creates a resolver. pool is used by ResolveAcross.
func NewResolver(c *DescriptorCache, pool *Pool, logger *slog.Logger) *Resolver {
	if c == nil {
		c = NewDescriptorCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		cache:   c,
		pool:    pool,
		timeout: defaultDescriptorTimeout,
		logger:  logger,
	}
}

// Cache exposes the underlying cache
func (r *Resolver) Cache() *DescriptorCache {
	return r.cache
}

// ClearCache drops every cached descriptor. Called at the start of a lookup.
func (r *Resolver) ClearCache() {
	r.cache.Clear()
}

// Resolve returns the descriptor of token, querying caller only on a cache
// miss. Concurrent misses for the same token share one query.
func (r *Resolver) Resolve(ctx context.Context, caller ContractCaller, token string) Descriptor {
	if d, ok := r.cache.Get(token); ok {
		return d
	}

	v, _, _ := r.group.Do(cacheKey(token), func() (any, error) {
		if d, ok := r.cache.Get(token); ok {
			return d, nil
		}
		d := r.query(ctx, caller, common.HexToAddress(token))
		r.cache.Set(token, d)
		return d, nil
	})
	return v.(Descriptor)
}

func (r *Resolver) query(ctx context.Context, caller ContractCaller, token common.Address) Descriptor {
	d := UnknownDescriptor()

	if name, err := readText(ctx, caller, token, "name"); err == nil {
		d.Name = name
	} else {
		r.logger.Debug("Token name unresolved", "token", token.Hex(), "error", err)
	}

	if symbol, err := readText(ctx, caller, token, "symbol"); err == nil {
		d.Symbol = symbol
	} else {
		r.logger.Debug("Token symbol unresolved", "token", token.Hex(), "error", err)
	}

	if decimals, err := readDecimals(ctx, caller, token); err == nil {
		d.Decimals = decimals
	} else {
		r.logger.Debug("Token decimals unresolved, using default", "token", token.Hex(), "default", DefaultDecimals, "error", err)
	}

	return d
}

// ResolveAcross resolves token on a live endpoint from urls. If the result is
// Unknown it evicts it and tries each other candidate in order until one
// yields a name or the list is exhausted.
func (r *Resolver) ResolveAcross(ctx context.Context, urls []string, token string) Descriptor {
	d := UnknownDescriptor()

	client, url, err := r.pool.Resolve(ctx, urls)
	if err != nil {
		r.logger.Warn("No live endpoint for descriptor lookup", "token", token, "error", err)
	} else {
		d = r.resolveWith(ctx, client, token)
		client.Close()
		if !d.IsUnknown() {
			return d
		}
		r.logger.Info("Token descriptor incomplete, retrying on other endpoints", "token", token, "first_endpoint", url)
	}

	for _, candidate := range urls {
		if candidate == url {
			continue
		}
		r.cache.Delete(token)

		c, err := r.pool.Probe(ctx, candidate, r.timeout)
		if err != nil {
			continue
		}
		got := r.resolveWith(ctx, c, token)
		c.Close()

		if got.Name != Unknown {
			return got
		}
		d = got
	}

	r.cache.Set(token, d)
	return d
}

func (r *Resolver) resolveWith(ctx context.Context, caller ContractCaller, token string) Descriptor {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.Resolve(ctx, caller, token)
}
