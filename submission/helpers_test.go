package submission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AnTengye/photoinsight/model"
	"github.com/AnTengye/photoinsight/remote"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// manualClock fires timers only when advanced
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	when    time.Time
	f       func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: epoch}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, running due timers in order on the caller's goroutine
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *manualTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.when.After(target) {
				continue
			}
			if next == nil || t.when.Before(next.when) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.when
		c.mu.Unlock()

		next.f()
	}
}

// Pending counts timers that have neither fired nor been stopped
func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fetchCall struct {
	url string
	at  time.Time
}

type fetchResponse struct {
	doc *model.ResultDocument
	err error
}

// scriptedFetcher replays responses in order and repeats the last one
type scriptedFetcher struct {
	clock     Clock
	responses []fetchResponse
	byURL     map[string]*model.ResultDocument

	// when gate is set every request waits for a value on it
	gate    chan struct{}
	entered chan struct{}

	mu          sync.Mutex
	calls       []fetchCall
	inFlight    int
	maxInFlight int
}

// notReady matches what ResultsClient returns while the document is missing
func notReady() fetchResponse {
	return fetchResponse{err: fmt.Errorf("%w: status 404", remote.ErrPollNotReady)}
}

func serverError() fetchResponse {
	return fetchResponse{err: &remote.RemoteRejectedError{Op: "results", Status: 500}}
}

func ready(doc *model.ResultDocument) fetchResponse {
	return fetchResponse{doc: doc}
}

func (f *scriptedFetcher) FetchResult(ctx context.Context, resultsURL string) (*model.ResultDocument, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, fetchCall{url: resultsURL, at: f.clock.Now()})
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.byURL != nil {
		if doc, ok := f.byURL[resultsURL]; ok {
			return doc, nil
		}
		return nil, remote.ErrPollNotReady
	}
	if len(f.responses) == 0 {
		return nil, remote.ErrPollNotReady
	}
	if n >= len(f.responses) {
		n = len(f.responses) - 1
	}
	r := f.responses[n]
	return r.doc, r.err
}

func (f *scriptedFetcher) Calls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fetchCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *scriptedFetcher) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func sampleDocument() *model.ResultDocument {
	return &model.ResultDocument{
		Rekognition: &model.LabelSet{Labels: []model.Label{}},
		Sentiment:   &model.SentimentScore{Neutral: 1},
		Polly:       []byte("audio"),
	}
}
