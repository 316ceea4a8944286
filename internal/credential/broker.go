package credential

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nikhilbhutani/docintel/internal/apperr"
)

const (
	DefaultRefreshMargin   = 5 * time.Minute
	DefaultRefreshInterval = 20 * time.Minute
	DefaultRetryDelay      = 30 * time.Second
)

// Token is a bearer token and its expiry. A zero Expiry means the provider
// did not report one.
type Token struct {
	AccessToken string
	Expiry      time.Time
}

// Valid reports whether the token is present and not expired at now.
func (t Token) Valid(now time.Time) bool {
	if t.AccessToken == "" {
		return false
	}
	return t.Expiry.IsZero() || now.Before(t.Expiry)
}

// IdentityProvider issues a new token given the broker's current one.
type IdentityProvider interface {
	Refresh(ctx context.Context, current Token) (Token, error)
}

// IdentityProviderFunc adapts a function to IdentityProvider.
type IdentityProviderFunc func(ctx context.Context, current Token) (Token, error)

func (f IdentityProviderFunc) Refresh(ctx context.Context, current Token) (Token, error) {
	return f(ctx, current)
}

// Broker owns the process-wide delegated-access token. Reads are concurrent;
// refreshes are serialized so there is a single writer at a time.
type Broker struct {
	provider        IdentityProvider
	logger          *slog.Logger
	margin          time.Duration
	defaultInterval time.Duration
	retryDelay      time.Duration
	now             func() time.Time

	refreshMu sync.Mutex

	mu          sync.RWMutex
	token       Token
	lastErr     error
	refreshedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Broker)

func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithRefreshMargin sets how long before expiry the background cycle refreshes.
func WithRefreshMargin(d time.Duration) Option {
	return func(b *Broker) {
		if d >= 0 {
			b.margin = d
		}
	}
}

// WithDefaultInterval sets the cycle length used when expiry is unknown.
func WithDefaultInterval(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.defaultInterval = d
		}
	}
}

// WithRetryDelay sets the minimum wait after a failed background refresh, and
// after a refresh whose token already expires within the margin.
func WithRetryDelay(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.retryDelay = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		if now != nil {
			b.now = now
		}
	}
}

func NewBroker(provider IdentityProvider, opts ...Option) *Broker {
	b := &Broker{
		provider:        provider,
		logger:          slog.Default(),
		margin:          DefaultRefreshMargin,
		defaultInterval: DefaultRefreshInterval,
		retryDelay:      DefaultRetryDelay,
		now:             time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Token returns the current bearer token, refreshing synchronously first when
// the stored one is absent or expired. If that refresh fails and no valid
// token remains, the error is an authentication error.
func (b *Broker) Token(ctx context.Context) (string, error) {
	if tok := b.snapshot(); tok.Valid(b.now()) {
		return tok.AccessToken, nil
	}

	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if tok := b.snapshot(); tok.Valid(b.now()) {
		return tok.AccessToken, nil
	}

	if err := b.refreshLocked(ctx); err != nil {
		return "", apperr.AuthenticationWrap(err, "access token unavailable")
	}
	return b.snapshot().AccessToken, nil
}

// Refresh unconditionally fetches a new token from the identity provider. On
// failure the previous token is left untouched.
func (b *Broker) Refresh(ctx context.Context) error {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()
	return b.refreshLocked(ctx)
}

func (b *Broker) refreshLocked(ctx context.Context) error {
	current := b.snapshot()
	start := b.now()

	tok, err := b.provider.Refresh(ctx, current)
	if err == nil && tok.AccessToken == "" {
		err = errors.New("identity provider returned an empty token")
	}
	if err != nil {
		b.mu.Lock()
		b.lastErr = err
		b.mu.Unlock()
		if ctx.Err() == nil {
			b.logger.Error("credential refresh failed", "error", err, "token_valid", current.Valid(b.now()))
		}
		return apperr.Upstream(err, "refresh access token")
	}

	b.mu.Lock()
	b.token = tok
	b.lastErr = nil
	b.refreshedAt = b.now()
	b.mu.Unlock()

	b.logger.Info("credential refreshed",
		"expiry", tok.Expiry,
		"duration_ms", b.now().Sub(start).Milliseconds(),
	)
	return nil
}

func (b *Broker) snapshot() Token {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.token
}

// Valid reports whether the stored token is currently usable.
func (b *Broker) Valid() bool {
	return b.snapshot().Valid(b.now())
}

// Status describes the broker state without exposing the token.
type Status struct {
	Valid       bool      `json:"valid"`
	Expiry      time.Time `json:"expiry,omitempty"`
	RefreshedAt time.Time `json:"refreshed_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

func (b *Broker) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := Status{
		Valid:       b.token.Valid(b.now()),
		Expiry:      b.token.Expiry,
		RefreshedAt: b.refreshedAt,
	}
	if b.lastErr != nil {
		s.LastError = b.lastErr.Error()
	}
	return s
}

// NextRefreshIn is the wait before the next scheduled refresh: the time left
// until expiry minus the margin, floored at zero, or the default interval
// when expiry is unknown.
func (b *Broker) NextRefreshIn() time.Duration {
	tok := b.snapshot()
	if tok.Expiry.IsZero() {
		return b.defaultInterval
	}
	d := tok.Expiry.Sub(b.now()) - b.margin
	if d < 0 {
		return 0
	}
	return d
}

// Start refreshes once synchronously and then keeps refreshing in the
// background until ctx is cancelled or Stop is called. The startup refresh
// error is returned but the background cycle runs regardless.
func (b *Broker) Start(ctx context.Context) error {
	err := b.Refresh(ctx)

	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	go b.run(ctx, err != nil)

	return err
}

// Stop cancels the background cycle and waits for it to exit.
func (b *Broker) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
}

func (b *Broker) run(ctx context.Context, failed bool) {
	defer close(b.done)

	for {
		wait := b.NextRefreshIn()
		// A token that is already inside the margin on arrival would
		// otherwise be refreshed in a tight loop.
		if wait <= 0 || (failed && (wait < b.retryDelay || !b.Valid())) {
			wait = b.retryDelay
		}
		b.logger.Debug("next credential refresh scheduled", "in", wait.String())

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			b.logger.Info("credential refresher stopped")
			return
		case <-timer.C:
		}

		failed = b.Refresh(ctx) != nil
	}
}
