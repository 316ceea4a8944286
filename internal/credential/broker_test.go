package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docintel/internal/apperr"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// sequenceProvider hands out token-1, token-2, ... each valid for ttl.
type sequenceProvider struct {
	clock *fakeClock
	ttl   time.Duration
	calls atomic.Int32
	fail  atomic.Bool
}

func (p *sequenceProvider) Refresh(_ context.Context, _ Token) (Token, error) {
	n := p.calls.Add(1)
	if p.fail.Load() {
		return Token{}, errors.New("identity provider unreachable")
	}
	tok := Token{AccessToken: fmt.Sprintf("token-%d", n)}
	if p.ttl > 0 {
		tok.Expiry = p.clock.Now().Add(p.ttl)
	}
	return tok, nil
}

func TestBroker_TokenRefreshesWhenAbsent(t *testing.T) {
	clock := newFakeClock()
	p := &sequenceProvider{clock: clock, ttl: time.Hour}
	b := NewBroker(p, WithClock(clock.Now))

	tok, err := b.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)

	tok, err = b.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestBroker_TokenRefreshesWhenExpired(t *testing.T) {
	clock := newFakeClock()
	p := &sequenceProvider{clock: clock, ttl: time.Hour}
	b := NewBroker(p, WithClock(clock.Now))

	require.NoError(t, b.Refresh(context.Background()))
	clock.Advance(time.Hour + time.Second)

	tok, err := b.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok)
}

func TestBroker_FailedRefreshKeepsPreviousToken(t *testing.T) {
	clock := newFakeClock()
	p := &sequenceProvider{clock: clock, ttl: time.Hour}
	b := NewBroker(p, WithClock(clock.Now))

	require.NoError(t, b.Refresh(context.Background()))

	p.fail.Store(true)
	err := b.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUpstream)

	tok, err := b.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)
	assert.Equal(t, "identity provider unreachable", b.Status().LastError)
}

func TestBroker_TokenUnavailableIsAuthenticationError(t *testing.T) {
	clock := newFakeClock()
	p := &sequenceProvider{clock: clock, ttl: time.Hour}
	p.fail.Store(true)
	b := NewBroker(p, WithClock(clock.Now))

	tok, err := b.Token(context.Background())
	assert.Empty(t, tok)
	assert.ErrorIs(t, err, apperr.ErrAuthentication)
	assert.Equal(t, 401, apperr.Status(err))
}

func TestBroker_EmptyTokenIsRejected(t *testing.T) {
	b := NewBroker(IdentityProviderFunc(func(context.Context, Token) (Token, error) {
		return Token{}, nil
	}))

	err := b.Refresh(context.Background())
	assert.ErrorIs(t, err, apperr.ErrUpstream)
	assert.False(t, b.Valid())
}

func TestBroker_NextRefreshIn(t *testing.T) {
	tests := []struct {
		name string
		ttl  time.Duration
		want time.Duration
	}{
		{"known expiry", time.Hour, time.Hour - 5*time.Minute},
		{"expiry inside margin floors at zero", 2 * time.Minute, 0},
		{"unknown expiry uses default interval", 0, 20 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			b := NewBroker(&sequenceProvider{clock: clock, ttl: tt.ttl}, WithClock(clock.Now))
			require.NoError(t, b.Refresh(context.Background()))
			assert.Equal(t, tt.want, b.NextRefreshIn())
		})
	}
}

func TestBroker_NextRefreshInTracksClock(t *testing.T) {
	clock := newFakeClock()
	b := NewBroker(&sequenceProvider{clock: clock, ttl: time.Hour}, WithClock(clock.Now))
	require.NoError(t, b.Refresh(context.Background()))

	clock.Advance(50 * time.Minute)
	assert.Equal(t, 5*time.Minute, b.NextRefreshIn())

	clock.Advance(10 * time.Minute)
	assert.Equal(t, time.Duration(0), b.NextRefreshIn())
}

func TestBroker_ConcurrentReadsDuringRefresh(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32

	p := IdentityProviderFunc(func(ctx context.Context, _ Token) (Token, error) {
		n := calls.Add(1)
		if n == 2 {
			close(entered)
			<-release
		}
		return Token{AccessToken: fmt.Sprintf("token-%d", n), Expiry: time.Now().Add(time.Hour)}, nil
	})
	b := NewBroker(p)
	require.NoError(t, b.Refresh(context.Background()))

	refreshDone := make(chan error, 1)
	go func() { refreshDone <- b.Refresh(context.Background()) }()
	<-entered

	const readers = 64
	var wg sync.WaitGroup
	results := make(chan string, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i == readers/2 {
				close(release)
			}
			tok, err := b.Token(context.Background())
			if err == nil {
				results <- tok
			}
		}(i)
	}
	wg.Wait()
	close(results)
	require.NoError(t, <-refreshDone)

	count := 0
	for tok := range results {
		count++
		assert.Contains(t, []string{"token-1", "token-2"}, tok)
	}
	assert.Equal(t, readers, count)

	tok, err := b.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok)
}

func TestBroker_StartRefreshesAndStops(t *testing.T) {
	var calls atomic.Int32
	p := IdentityProviderFunc(func(context.Context, Token) (Token, error) {
		n := calls.Add(1)
		return Token{AccessToken: fmt.Sprintf("token-%d", n), Expiry: time.Now().Add(120 * time.Millisecond)}, nil
	})
	b := NewBroker(p, WithRefreshMargin(100*time.Millisecond), WithRetryDelay(10*time.Millisecond))

	require.NoError(t, b.Start(context.Background()))
	assert.True(t, b.Valid())

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	b.Stop()
	after := calls.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
}

func TestBroker_ShortLivedTokenDoesNotSpin(t *testing.T) {
	var calls atomic.Int32
	p := IdentityProviderFunc(func(context.Context, Token) (Token, error) {
		calls.Add(1)
		return Token{AccessToken: "short", Expiry: time.Now().Add(4 * time.Minute)}, nil
	})
	b := NewBroker(p, WithRefreshMargin(5*time.Minute), WithRetryDelay(50*time.Millisecond))

	require.NoError(t, b.Start(context.Background()))
	time.Sleep(200 * time.Millisecond)
	b.Stop()

	assert.Zero(t, b.NextRefreshIn())
	assert.LessOrEqual(t, calls.Load(), int32(6))
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestBroker_StartReportsFailureAndKeepsCycling(t *testing.T) {
	var calls atomic.Int32
	p := IdentityProviderFunc(func(context.Context, Token) (Token, error) {
		if calls.Add(1) == 1 {
			return Token{}, errors.New("temporarily down")
		}
		return Token{AccessToken: "recovered"}, nil
	})
	b := NewBroker(p, WithRetryDelay(10*time.Millisecond), WithDefaultInterval(time.Hour))

	err := b.Start(context.Background())
	require.Error(t, err)
	defer b.Stop()

	require.Eventually(t, b.Valid, time.Second, 5*time.Millisecond)
	tok, err := b.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "recovered", tok)
}

func TestBroker_StopOnParentCancel(t *testing.T) {
	b := NewBroker(IdentityProviderFunc(func(context.Context, Token) (Token, error) {
		return Token{AccessToken: "t"}, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, b.Start(ctx))
	cancel()

	done := make(chan struct{})
	go func() { b.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broker did not stop after cancellation")
	}
	assert.True(t, b.Valid())
}
