package pairclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/pairing-relay-go/internal/config"
	apperrors "github.com/openclaw/pairing-relay-go/internal/errors"
	"github.com/openclaw/pairing-relay-go/internal/model"
	"github.com/openclaw/pairing-relay-go/internal/service"
	"github.com/openclaw/pairing-relay-go/internal/util"
)

var (
	ErrPollerStarted = errors.New("pairclient: poller already started")
	ErrPollerStopped = errors.New("pairclient: poller stopped")
)

// StatusFetcher is implemented by *Client and by *service.PairingService.
type StatusFetcher interface {
	GetStatus(ctx context.Context, code string) (*service.SessionStatusResult, error)
}

type PollerOption func(*Poller)

func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithTerminal replaces the default claimed-or-expired stop condition.
func WithTerminal(fn func(model.PairingStatus) bool) PollerOption {
	return func(p *Poller) { p.terminal = fn }
}

// OnUpdate registers a callback for every observed status change. It runs on
// the polling goroutine.
func OnUpdate(fn func(*service.SessionStatusResult)) PollerOption {
	return func(p *Poller) { p.onUpdate = fn }
}

// Poller repeatedly fetches one session's status until a terminal status is
// seen, the code turns out to be unknown, or it is stopped. At most one fetch
// is in flight; ticks that fire during a fetch are dropped.
type Poller struct {
	fetcher  StatusFetcher
	code     string
	interval time.Duration
	terminal func(model.PairingStatus) bool
	onUpdate func(*service.SessionStatusResult)

	mu       sync.Mutex
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
	last     model.PairingStatus
	result   *service.SessionStatusResult
	err      error
}

func NewPoller(fetcher StatusFetcher, code string, opts ...PollerOption) *Poller {
	p := &Poller{
		fetcher:  fetcher,
		code:     code,
		interval: config.DefaultPollInterval,
		terminal: model.PairingStatus.IsTerminal,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the polling loop and returns immediately. The first fetch
// happens right away.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPollerStopped
	}
	if p.started {
		return ErrPollerStarted
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
	return nil
}

// Stop cancels the loop and waits for it to exit. No fetch is issued after
// Stop returns. Safe to call more than once, and before Start.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	started, cancel := p.started, p.cancel
	p.mu.Unlock()

	if !started {
		p.closeDone()
		return
	}
	cancel()
	<-p.done
}

// Done is closed once the loop has exited for any reason.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// Result is the terminal status, or nil if polling ended without one.
func (p *Poller) Result() *service.SessionStatusResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// Err reports a non-retryable fetch failure such as an unknown code.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Wait blocks until polling ends or ctx is done. Cancelling ctx does not stop
// the poller.
func (p *Poller) Wait(ctx context.Context) (*service.SessionStatusResult, error) {
	select {
	case <-p.done:
		return p.Result(), p.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Poller) closeDone() {
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *Poller) run(ctx context.Context) {
	defer p.closeDone()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if p.poll(ctx) {
			return
		}

		// Drop a tick that fired while the fetch was running.
		select {
		case <-ticker.C:
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll performs one fetch and reports whether polling is finished.
func (p *Poller) poll(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}

	res, err := p.fetcher.GetStatus(ctx, p.code)
	if ctx.Err() != nil {
		return true
	}

	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodeNotFound) || apperrors.Is(err, apperrors.ErrCodeValidation) {
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			return true
		}
		log.Debug().Err(err).Str("code", util.MaskCode(p.code)).Msg("pairing status poll failed, retrying")
		return false
	}

	p.mu.Lock()
	changed := res.Status != p.last
	p.last = res.Status
	p.mu.Unlock()

	if changed && p.onUpdate != nil {
		p.onUpdate(res)
	}

	if p.terminal(res.Status) {
		p.mu.Lock()
		p.result = res
		p.mu.Unlock()
		return true
	}
	return false
}
