// Package binding resolves the vault's callable interface once per Cache and
// shares it across concurrent requests.
package binding

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/vault-gateway/internal/errors"
	"golang.org/x/sync/singleflight"
)

const flightKey = "vault"

// Vault is a resolved binding. It is read-only once returned.
type Vault struct {
	Address    common.Address
	ABI        abi.ABI
	Source     string
	ResolvedAt time.Time
}

// Lookup performs the remote interface lookup for a contract address.
type Lookup interface {
	Name() string
	Lookup(ctx context.Context, address common.Address) (abi.ABI, error)
}

type Options struct {
	// Timeout bounds one shared lookup, independent of any caller's deadline.
	Timeout time.Duration
	Logger  *slog.Logger
	// OnLookup is called once per remote lookup with its outcome.
	OnLookup func(source string, err error)
}

type Cache struct {
	address common.Address
	lookup  Lookup
	opts    Options
	now     func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	vault *Vault
}

func NewCache(address common.Address, lookup Lookup, opts Options) *Cache {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache{address: address, lookup: lookup, opts: opts, now: time.Now}
}

// Resolve returns the memoized binding, performing the lookup on first use.
// Concurrent first callers share a single lookup. A failed lookup is not
// memoized.
func (c *Cache) Resolve(ctx context.Context) (*Vault, error) {
	if v := c.load(); v != nil {
		return v, nil
	}
	// The shared lookup must not inherit one caller's cancellation.
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		if v := c.load(); v != nil {
			return v, nil
		}
		return c.resolve(detached)
	})
	select {
	case <-ctx.Done():
		return nil, clierr.Wrap(clierr.CodeUnavailable, "resolve vault interface", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Vault), nil
	}
}

// Resolved reports whether a binding is memoized.
func (c *Cache) Resolved() bool {
	return c.load() != nil
}

func (c *Cache) load() *Vault {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vault
}

func (c *Cache) resolve(ctx context.Context) (*Vault, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	start := c.now()
	parsed, err := c.lookup.Lookup(lookupCtx, c.address)
	if c.opts.OnLookup != nil {
		c.opts.OnLookup(c.lookup.Name(), err)
	}
	if err != nil {
		c.opts.Logger.Warn("vault interface lookup failed",
			"vault", c.address.Hex(), "source", c.lookup.Name(), "error", err)
		if typed, ok := clierr.As(err); ok && typed.Code == clierr.CodeUnavailable {
			return nil, typed
		}
		return nil, clierr.Wrap(clierr.CodeUnavailable, "resolve vault interface", err)
	}

	v := &Vault{
		Address:    c.address,
		ABI:        parsed,
		Source:     c.lookup.Name(),
		ResolvedAt: c.now(),
	}
	c.mu.Lock()
	c.vault = v
	c.mu.Unlock()
	c.opts.Logger.Info("vault interface resolved",
		"vault", c.address.Hex(), "source", v.Source,
		"methods", len(parsed.Methods), "duration_ms", c.now().Sub(start).Milliseconds())
	return v, nil
}
