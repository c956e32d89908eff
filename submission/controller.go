package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/AnTengye/photoinsight/model"
	"github.com/AnTengye/photoinsight/pkg/logger"
)

// ErrNoAsset is returned when Submit is called without an asset
var ErrNoAsset = errors.New("no asset to submit")

// TargetResolver issues a fresh presigned target per submission
type TargetResolver interface {
	GetUploadTarget(ctx context.Context, baseEndpoint string) (*model.PresignedTarget, error)
}

// Uploader sends an asset to a presigned URL
type Uploader interface {
	Upload(ctx context.Context, putURL string, asset *model.Asset) error
}

// FeedbackSender posts a comment for analysis
type FeedbackSender interface {
	Send(ctx context.Context, endpoint string, body model.FeedbackBody) (*model.FeedbackDocument, error)
}

type Options struct {
	BaseEndpoint string
	Targets      TargetResolver
	Uploader     Uploader
	Results      ResultFetcher
	Feedback     FeedbackSender
	Policy       PollPolicy
	Clock        Clock

	// KeepSuperseded leaves a replaced session's poller running instead of
	// cancelling it. Its late result is still discarded. The leaked pollers
	// are reported by Orphaned.
	KeepSuperseded bool
	MaxSessions    int
}

// Snapshot is the state handed to the view layer
type Snapshot struct {
	SessionID   string
	State       State
	PreviewData string
	ResultsURL  string
	Result      *model.ResultDocument
	Feedback    *model.FeedbackDocument
}

// Controller runs the submit, upload and poll state machine. One session is
// current at a time; results for any other session are ignored.
type Controller struct {
	baseEndpoint   string
	targets        TargetResolver
	uploader       Uploader
	results        ResultFetcher
	feedback       FeedbackSender
	policy         PollPolicy
	clock          Clock
	keepSuperseded bool
	registry       *Registry

	mu       sync.Mutex
	gen      uint64 // bumped by every Submit and Purge
	current  *Session
	orphans  []*Session
	snapshot Snapshot
	subs     map[int]chan Snapshot
	nextSub  int
}

func NewController(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Policy.Interval <= 0 {
		opts.Policy.Interval = DefaultPollInterval
	}
	return &Controller{
		baseEndpoint:   opts.BaseEndpoint,
		targets:        opts.Targets,
		uploader:       opts.Uploader,
		results:        opts.Results,
		feedback:       opts.Feedback,
		policy:         opts.Policy,
		clock:          opts.Clock,
		keepSuperseded: opts.KeepSuperseded,
		registry:       NewRegistry(opts.MaxSessions),
		snapshot:       Snapshot{State: StateIdle},
		subs:           make(map[int]chan Snapshot),
	}
}

// Submit starts a new session for asset. It clears the previous observable
// state, resolves a presigned target, starts polling and uploads. Polling
// begins before the upload so the first check is already scheduled when the
// object lands. The upload outcome is logged and recorded on the session but
// does not affect the transition to ready.
//
// When no target can be resolved the error is returned, no session is created
// and the observable state stays idle. A target that resolves after a later
// Submit or Purge is discarded and ErrSessionSuperseded is returned.
func (c *Controller) Submit(ctx context.Context, asset *model.Asset) (*Session, error) {
	if asset == nil {
		return nil, ErrNoAsset
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.supersedeLocked()
	c.snapshot = Snapshot{State: StateIdle}
	c.publishLocked()
	c.mu.Unlock()

	target, err := c.targets.GetUploadTarget(ctx, c.baseEndpoint)
	if err != nil {
		logger.Warn(ctx, "upload target unavailable, submission dropped", "error", err)
		return nil, fmt.Errorf("failed to resolve upload target: %w", err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		logger.Info(ctx, "stale upload target discarded", "results_url", target.ResultsURL)
		return nil, ErrSessionSuperseded
	}

	s := newSession(uuid.New().String(), asset, *target, c.clock.Now())
	sctx := logger.WithSession(ctx, s.ID)
	s.poller = NewResultPoller(c.results, PollerOptions{
		Policy:      c.policy,
		Clock:       c.clock,
		OnResult:    func(doc *model.ResultDocument) { c.handleResult(s, doc) },
		OnExhausted: func(err error) { c.handleExhausted(s, err) },
		Logger:      logger.WithContext(sctx),
	})
	c.current = s
	c.registry.Add(s)
	s.advance(StateIdle, StateUploading)
	c.snapshot = Snapshot{
		SessionID:   s.ID,
		State:       StateUploading,
		PreviewData: asset.Preview,
		ResultsURL:  target.ResultsURL,
	}
	s.poller.Start(target.ResultsURL)
	c.publishLocked()
	c.mu.Unlock()

	logger.Info(sctx, "uploading asset",
		"filename", asset.Filename,
		"size", humanize.Bytes(uint64(asset.Size())),
		"content_type", asset.UploadContentType(),
	)
	uploadErr := c.uploader.Upload(sctx, target.PutURL, asset)
	s.recordUpload(uploadErr)
	if uploadErr != nil {
		logger.Error(sctx, "asset upload failed", "error", uploadErr)
	} else {
		logger.Info(sctx, "asset uploaded")
	}

	c.mu.Lock()
	if c.current == s && s.advance(StateUploading, StatePolling) {
		c.snapshot.State = StatePolling
		c.publishLocked()
	}
	c.mu.Unlock()

	return s, nil
}

// supersedeLocked detaches the current session. Must be called with c.mu held.
func (c *Controller) supersedeLocked() {
	prev := c.current
	if prev == nil {
		return
	}
	c.current = nil

	if c.keepSuperseded && prev.poller.Active() {
		c.orphans = append(c.orphans, prev)
		logger.Warn(logger.WithSession(context.Background(), prev.ID),
			"superseded session left polling", "results_url", prev.Target.ResultsURL)
		return
	}
	prev.poller.Cancel()
	prev.end(ErrSessionSuperseded)
}

func (c *Controller) handleResult(s *Session, doc *model.ResultDocument) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != s {
		s.end(ErrSessionSuperseded)
		c.dropOrphanLocked(s)
		logger.Debug(logger.WithSession(context.Background(), s.ID), "discarding result for superseded session")
		return
	}
	if !s.complete(doc) {
		return
	}
	c.snapshot.State = StateReady
	c.snapshot.Result = doc
	c.publishLocked()
}

func (c *Controller) handleExhausted(s *Session, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != s {
		s.end(ErrSessionSuperseded)
		c.dropOrphanLocked(s)
		return
	}
	if !s.fail(fmt.Errorf("%w: %w", ErrPollExhausted, err)) {
		return
	}
	c.snapshot.State = StateError
	c.publishLocked()
}

func (c *Controller) dropOrphanLocked(s *Session) {
	for i, o := range c.orphans {
		if o == s {
			c.orphans = append(c.orphans[:i], c.orphans[i+1:]...)
			return
		}
	}
}

// Purge cancels the current session and any orphaned pollers and resets the
// observable state to idle.
func (c *Controller) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	if s := c.current; s != nil {
		s.poller.Cancel()
		s.end(ErrSessionPurged)
		c.current = nil
	}
	for _, o := range c.orphans {
		o.poller.Cancel()
		o.end(ErrSessionSuperseded)
	}
	c.orphans = nil
	c.snapshot = Snapshot{State: StateIdle}
	c.publishLocked()
}

// SubmitComment sends feedback and publishes the analyzed document. On
// failure the previous feedback stays in place.
func (c *Controller) SubmitComment(ctx context.Context, body model.FeedbackBody) (*model.FeedbackDocument, error) {
	doc, err := c.feedback.Send(ctx, c.baseEndpoint, body)
	if err != nil {
		logger.Error(ctx, "feedback submission failed", "error", err)
		return nil, err
	}

	c.mu.Lock()
	c.snapshot.Feedback = doc
	c.publishLocked()
	c.mu.Unlock()
	return doc, nil
}

// Snapshot returns the current observable state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Current returns the active session, or nil
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Session looks up a recent session by ID
func (c *Controller) Session(id string) *Session {
	return c.registry.Get(id)
}

// Orphaned returns superseded sessions whose pollers are still running.
// It is only ever non-empty with KeepSuperseded.
func (c *Controller) Orphaned() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	var live []*Session
	for _, o := range c.orphans {
		if o.poller.Active() {
			live = append(live, o)
		}
	}
	return live
}

// Subscribe returns a channel of state changes and a function to stop them.
// A slow subscriber loses intermediate snapshots, never the latest one.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan Snapshot, 8)
	c.subs[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// publishLocked fans the snapshot out without blocking.
// Must be called with c.mu held.
func (c *Controller) publishLocked() {
	snap := c.snapshot
	for _, ch := range c.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// full: drop the oldest queued snapshot to make room
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
