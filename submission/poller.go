package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AnTengye/photoinsight/model"
	"github.com/AnTengye/photoinsight/remote"
)

// DefaultPollInterval is the fixed delay between result checks
const DefaultPollInterval = time.Second

var (
	// ErrPollStopped is returned by Wait when the poller was cancelled
	ErrPollStopped = errors.New("poller stopped")
	// ErrPollExhausted is returned by Wait when a bounded policy ran out of attempts
	ErrPollExhausted = errors.New("poll attempts exhausted")
)

// Phase is the poller's position in its state machine
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScheduled
	PhaseInFlight
	PhaseDone
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseScheduled:
		return "scheduled"
	case PhaseInFlight:
		return "in_flight"
	case PhaseDone:
		return "done"
	case PhaseStopped:
		return "stopped"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ResultFetcher performs a single results lookup
type ResultFetcher interface {
	FetchResult(ctx context.Context, resultsURL string) (*model.ResultDocument, error)
}

// PollPolicy is a constant-interval retry policy. MaxAttempts 0 retries forever.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultPollPolicy polls every second with no attempt limit
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{Interval: DefaultPollInterval}
}

type PollerOptions struct {
	Policy      PollPolicy
	Clock       Clock
	OnResult    func(*model.ResultDocument)
	OnExhausted func(error)
	Logger      *slog.Logger
}

// ResultPoller repeatedly checks a results URL until a document is returned
// or the poller is cancelled. At most one timer and one request are live at
// any time.
type ResultPoller struct {
	fetcher     ResultFetcher
	policy      PollPolicy
	clock       Clock
	onResult    func(*model.ResultDocument)
	onExhausted func(error)
	logger      *slog.Logger

	mu        sync.Mutex
	phase     Phase
	url       string
	timer     Timer
	seq       uint64
	attempts  int
	exhausted bool
	lastErr   error
	result    *model.ResultDocument

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
}

func NewResultPoller(fetcher ResultFetcher, opts PollerOptions) *ResultPoller {
	if opts.Policy.Interval <= 0 {
		opts.Policy.Interval = DefaultPollInterval
	}
	if opts.Policy.MaxAttempts < 0 {
		opts.Policy.MaxAttempts = 0
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ResultPoller{
		fetcher:     fetcher,
		policy:      opts.Policy,
		clock:       opts.Clock,
		onResult:    opts.OnResult,
		onExhausted: opts.OnExhausted,
		logger:      opts.Logger,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Start makes sure a poll loop is running for resultsURL and reports whether
// this call began one. It is idempotent: while a check is scheduled or a
// request is outstanding the live loop already covers the caller, so no
// second loop or overlapping request is created. Start after Done or Cancel
// is a no-op.
func (p *ResultPoller) Start(resultsURL string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase != PhaseIdle {
		p.logger.Debug("poll loop already active", "phase", p.phase.String(), "results_url", p.url)
		return false
	}

	p.url = resultsURL
	p.schedule()
	p.logger.Debug("poll loop started", "results_url", resultsURL, "interval", p.policy.Interval)
	return true
}

// Cancel stops the loop from any state. A pending timer is cleared and an
// outstanding request is aborted. Safe to call more than once.
func (p *ResultPoller) Cancel() {
	p.mu.Lock()
	if p.phase == PhaseDone || p.phase == PhaseStopped {
		p.mu.Unlock()
		return
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	prev := p.phase
	p.phase = PhaseStopped
	p.cancel()
	p.mu.Unlock()

	p.closeDone()
	p.logger.Debug("poll loop cancelled", "phase", prev.String())
}

// schedule arms the single timer. Must be called with p.mu held.
func (p *ResultPoller) schedule() {
	p.seq++
	seq := p.seq
	p.phase = PhaseScheduled
	p.timer = p.clock.AfterFunc(p.policy.Interval, func() { p.fire(seq) })
}

func (p *ResultPoller) fire(seq uint64) {
	p.mu.Lock()
	if p.phase != PhaseScheduled || seq != p.seq {
		p.mu.Unlock()
		return
	}
	p.phase = PhaseInFlight
	p.timer = nil
	p.attempts++
	attempt := p.attempts
	ctx, url := p.ctx, p.url
	p.mu.Unlock()

	doc, err := p.fetcher.FetchResult(ctx, url)
	if err == nil && doc == nil {
		err = remote.ErrPollNotReady
	}

	p.mu.Lock()
	if p.phase != PhaseInFlight {
		// cancelled while the request was outstanding
		p.mu.Unlock()
		return
	}

	if err == nil {
		p.phase = PhaseDone
		p.result = doc
		p.lastErr = nil
		p.cancel()
		onResult := p.onResult
		p.mu.Unlock()

		p.logger.Info("result document received", "attempts", attempt)
		if onResult != nil {
			onResult(doc)
		}
		p.closeDone()
		return
	}

	p.lastErr = err
	if p.policy.MaxAttempts > 0 && attempt >= p.policy.MaxAttempts {
		p.phase = PhaseStopped
		p.exhausted = true
		p.cancel()
		onExhausted := p.onExhausted
		p.mu.Unlock()

		p.logger.Warn("poll attempts exhausted", "attempts", attempt, "error", err)
		if onExhausted != nil {
			onExhausted(err)
		}
		p.closeDone()
		return
	}

	p.schedule()
	p.mu.Unlock()

	if errors.Is(err, remote.ErrPollNotReady) {
		p.logger.Debug("result not ready, rescheduling", "attempt", attempt)
	} else {
		p.logger.Warn("result check failed, rescheduling", "attempt", attempt, "error", err)
	}
}

func (p *ResultPoller) closeDone() {
	p.doneOnce.Do(func() { close(p.done) })
}

// Done is closed once the poller has a result or has stopped
func (p *ResultPoller) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until a result arrives, the poller stops or ctx is done
func (p *ResultPoller) Wait(ctx context.Context) (*model.ResultDocument, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.result != nil:
		return p.result, nil
	case p.exhausted:
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrPollExhausted, p.attempts, p.lastErr)
	default:
		return nil, ErrPollStopped
	}
}

func (p *ResultPoller) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// Active reports whether a check is scheduled or in flight
func (p *ResultPoller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase == PhaseScheduled || p.phase == PhaseInFlight
}

func (p *ResultPoller) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *ResultPoller) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *ResultPoller) Result() *model.ResultDocument {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}
