package awsmcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"golang.org/x/sync/singleflight"
)

// ClientOptions are the per-account transport settings applied to every
// client handle.
type ClientOptions struct {
	// Timeout bounds connect and read time.
	Timeout time.Duration

	// MaxRetries is the SDK retryer's max attempts.
	MaxRetries int
}

// ClientFactory constructs one service client from a region-scoped config.
type ClientFactory interface {
	NewClient(ctx context.Context, service string, cfg aws.Config, opts ClientOptions) (any, error)
}

// ClientRegistry caches client handles of one account, keyed by
// (service, region). Handles are never shared with other accounts.
type ClientRegistry struct {
	binding  AccountBinding
	resolver *CredentialResolver
	factory  ClientFactory
	logger   *slog.Logger

	mu         sync.Mutex
	clients    map[ClientKey]any
	generation uint64
	group      singleflight.Group
}

// NewClientRegistry creates an empty registry for binding.
func NewClientRegistry(binding AccountBinding, resolver *CredentialResolver, factory ClientFactory, logger *slog.Logger) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientRegistry{
		binding:  binding,
		resolver: resolver,
		factory:  factory,
		logger:   logger.With("account", binding.Name),
		clients:  make(map[ClientKey]any),
	}
}

// Account returns the account name the registry is bound to.
func (r *ClientRegistry) Account() string {
	return r.binding.Name
}

// Binding returns the account configuration.
func (r *ClientRegistry) Binding() AccountBinding {
	return r.binding
}

// Client returns the handle for (service, region), creating it on first use.
// The region is checked against the account's RegionPolicy before any
// credential or network work.
func (r *ClientRegistry) Client(ctx context.Context, service, region string) (any, error) {
	if err := r.binding.Regions.Check(region); err != nil {
		return nil, err
	}

	key := ClientKey{Service: service, Region: region}

	r.mu.Lock()
	if h, ok := r.clients[key]; ok {
		r.mu.Unlock()
		return h, nil
	}
	gen := r.generation
	r.mu.Unlock()

	// The flight is shared, so it runs detached from this caller's
	// cancellation and bounded by the account timeout instead.
	ch := r.group.DoChan(fmt.Sprintf("%s#%d", key, gen), shared(func() (any, error) {
		// Double-check: a flight for this key may have just finished.
		r.mu.Lock()
		if h, ok := r.clients[key]; ok {
			r.mu.Unlock()
			return h, nil
		}
		r.mu.Unlock()

		fctx, cancel := detach(ctx, r.binding.Identity.Timeout)
		defer cancel()
		h, err := r.create(fctx, key)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if r.generation == gen {
			r.clients[key] = h
		}
		r.mu.Unlock()
		return h, nil
	}))
	return await(ctx, ch)
}

func (r *ClientRegistry) create(ctx context.Context, key ClientKey) (any, error) {
	sess, err := r.Session(ctx)
	if err != nil {
		return nil, err
	}
	if r.factory == nil {
		return nil, ErrService("no client factory configured", key.Service, "NewClient")
	}

	cfg := sess.Config.Copy()
	cfg.Region = key.Region

	h, err := r.factory.NewClient(ctx, key.Service, cfg, ClientOptions{
		Timeout:    r.binding.Identity.Timeout,
		MaxRetries: r.binding.Identity.MaxRetries,
	})
	if err != nil {
		return nil, TranslateError(key.Service, "NewClient", err)
	}

	r.logger.Debug("created client", "service", key.Service, "region", key.Region, "source", sess.Source)
	return h, nil
}

// Session returns the account's resolved session.
func (r *ClientRegistry) Session(ctx context.Context) (*Session, error) {
	if r.resolver == nil {
		return nil, ErrAuthentication("no credential resolver configured", "")
	}
	return r.resolver.Resolve(ctx, r.binding.Identity)
}

// Invalidate discards every cached handle and the resolved session. The
// next lookup resolves credentials afresh.
func (r *ClientRegistry) Invalidate() {
	r.mu.Lock()
	r.clients = make(map[ClientKey]any)
	r.generation++
	r.mu.Unlock()

	if r.resolver != nil {
		r.resolver.Invalidate(r.binding.Identity)
	}
	r.logger.Info("invalidated account session")
}

// Len returns the number of cached handles.
func (r *ClientRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// detach returns a context for work shared by several callers. It carries
// ctx's values but not its cancellation, and is bounded by timeout when
// timeout is positive.
func detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// await waits for a shared flight. A caller that gives up returns its own
// context error and leaves the flight running for the others.
func await(ctx context.Context, ch <-chan singleflight.Result) (any, error) {
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// shared turns a panic in a flight into an error. DoChan re-panics on a
// fresh goroutine, where no caller could recover it.
func shared(fn func() (any, error)) func() (any, error) {
	return func() (v any, err error) {
		defer func() {
			if p := recover(); p != nil {
				v, err = nil, fmt.Errorf("panic in shared flight: %v", p)
			}
		}()
		return fn()
	}
}
