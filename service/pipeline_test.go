package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AnTengye/photoinsight/config"
	"github.com/AnTengye/photoinsight/model"
)

type storedObject struct {
	data        []byte
	contentType string
	tags        map[string]string
}

type listener struct {
	prefix string
	ch     chan ObjectEvent
}

// memStore is an ObjectStore that notifies listeners on every put
type memStore struct {
	mu        sync.Mutex
	objects   map[string]storedObject
	listeners []listener
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string]storedObject)}
}

func (m *memStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	m.store(key, storedObject{data: data, contentType: contentType})
	return nil
}

func (m *memStore) PutJSON(ctx context.Context, key string, v any, tags map[string]string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.store(key, storedObject{data: data, contentType: "application/json", tags: tags})
	return nil
}

func (m *memStore) store(key string, obj storedObject) {
	m.mu.Lock()
	m.objects[key] = obj
	var targets []chan ObjectEvent
	for _, l := range m.listeners {
		if strings.HasPrefix(key, l.prefix) {
			targets = append(targets, l.ch)
		}
	}
	m.mu.Unlock()

	for _, ch := range targets {
		ch <- ObjectEvent{Records: []ObjectRecord{{Bucket: "test", Key: key, Size: int64(len(obj.data))}}}
	}
}

func (m *memStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return obj.data, nil
}

func (m *memStore) Listen(ctx context.Context, prefix string) <-chan ObjectEvent {
	ch := make(chan ObjectEvent, 16)
	m.mu.Lock()
	m.listeners = append(m.listeners, listener{prefix: prefix, ch: ch})
	m.mu.Unlock()
	return ch
}

func (m *memStore) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

func (m *memStore) Object(key string) (storedObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

type fakeDetector struct {
	labels *model.LabelSet
	err    error
}

func (f *fakeDetector) DetectLabels(ctx context.Context, image []byte, contentType string) (*model.LabelSet, error) {
	return f.labels, f.err
}

type fakeSynthesizer struct {
	mu   sync.Mutex
	reqs []SpeechRequest
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return []byte("mp3:" + req.TextType), nil
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		Uploads:         "uploads",
		LabelArtifacts:  "rekognition-artifacts",
		SpeechArtifacts: "polly-artifacts",
		Consolidated:    "consolidated",
	}
}

func catLabels() *model.LabelSet {
	return &model.LabelSet{Labels: []model.Label{
		{Name: "Animal", Confidence: 97.1},
		{Name: "Cat", Confidence: 99.2},
	}}
}

func TestBaseKeyName(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"uploads/abc", "abc"},
		{"uploads/abc.jpg", "abc"},
		{"a/b/c/photo.tar.gz", "photo.tar"},
		{"plain", "plain"},
		{"uploads/", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := BaseKeyName(tt.key); got != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, got)
			}
		})
	}
}

func TestPipelineStages(t *testing.T) {
	store := newMemStore()
	speech := &fakeSynthesizer{}
	p := NewPipeline(store, &fakeDetector{labels: catLabels()}, speech, testPipelineConfig())
	ctx := context.Background()

	store.PutObject(ctx, "uploads/abc", []byte("jpeg"), "image/jpeg")

	if err := p.DetectLabels(ctx, ObjectRecord{Key: "uploads/abc"}); err != nil {
		t.Fatalf("DetectLabels failed: %v", err)
	}
	if _, ok := store.Object("rekognition-artifacts/abc"); !ok {
		t.Fatal("Expected label artifact to be stored")
	}

	if err := p.Narrate(ctx, ObjectRecord{Key: "rekognition-artifacts/abc"}); err != nil {
		t.Fatalf("Narrate failed: %v", err)
	}
	audio, ok := store.Object("polly-artifacts/abc")
	if !ok {
		t.Fatal("Expected speech artifact to be stored")
	}
	if audio.contentType != "audio/mpeg3" {
		t.Errorf("Expected audio/mpeg3, got %s", audio.contentType)
	}
	req := speech.reqs[0]
	if req.VoiceID != DefaultVoice || req.OutputFormat != OutputFormatMP3 || req.TextType != TextTypeSSML {
		t.Errorf("Unexpected speech request %+v", req)
	}
	if !strings.Contains(req.Text, "Cat") {
		t.Errorf("Expected narration of the top label, got %s", req.Text)
	}

	if err := p.Summarize(ctx, ObjectRecord{Key: "polly-artifacts/abc"}); err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	summary, ok := store.Object("consolidated/abc")
	if !ok {
		t.Fatal("Expected result document to be stored")
	}
	if summary.tags[TagAccess] != TagAccessPublic {
		t.Errorf("Expected public access tag, got %v", summary.tags)
	}

	var doc model.ResultDocument
	if err := json.Unmarshal(summary.data, &doc); err != nil {
		t.Fatalf("Failed to decode result document: %v", err)
	}
	if len(doc.Labels()) != 2 || doc.Labels()[0].Name != "Cat" {
		t.Errorf("Unexpected labels %+v", doc.Labels())
	}
	if string(doc.Polly) != "mp3:ssml" {
		t.Errorf("Expected audio bytes, got %q", doc.Polly)
	}
}

func TestPipelineNarrateFallback(t *testing.T) {
	store := newMemStore()
	speech := &fakeSynthesizer{}
	cfg := testPipelineConfig()
	cfg.Voice = "Matthew"
	p := NewPipeline(store, nil, speech, cfg)
	ctx := context.Background()

	store.PutJSON(ctx, "rekognition-artifacts/empty", &model.LabelSet{}, nil)
	if err := p.Narrate(ctx, ObjectRecord{Key: "rekognition-artifacts/empty"}); err != nil {
		t.Fatalf("Narrate failed: %v", err)
	}

	req := speech.reqs[0]
	if req.TextType != TextTypePlain || req.Text != emptyNarration {
		t.Errorf("Expected plain text fallback, got %+v", req)
	}
	if req.VoiceID != "Matthew" {
		t.Errorf("Expected configured voice, got %s", req.VoiceID)
	}
}

func TestPipelineStageErrors(t *testing.T) {
	store := newMemStore()
	p := NewPipeline(store, &fakeDetector{err: errors.New("quota exceeded")}, &fakeSynthesizer{}, testPipelineConfig())
	ctx := context.Background()

	if err := p.DetectLabels(ctx, ObjectRecord{Key: "uploads/missing"}); err == nil {
		t.Error("Expected error for a missing upload")
	}

	store.PutObject(ctx, "uploads/abc", []byte("jpeg"), "image/jpeg")
	if err := p.DetectLabels(ctx, ObjectRecord{Key: "uploads/abc"}); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("Expected detector error, got %v", err)
	}

	store.PutObject(ctx, "rekognition-artifacts/bad", []byte("{"), "application/json")
	if err := p.Narrate(ctx, ObjectRecord{Key: "rekognition-artifacts/bad"}); err == nil {
		t.Error("Expected error for an invalid label artifact")
	}

	if err := p.Summarize(ctx, ObjectRecord{Key: "polly-artifacts/nothing"}); err == nil {
		t.Error("Expected error when artifacts are missing")
	}
}

func TestHandleRecordsAggregatesErrors(t *testing.T) {
	p := NewPipeline(newMemStore(), nil, nil, testPipelineConfig())

	var calls atomic.Int32
	handler := func(ctx context.Context, rec ObjectRecord) error {
		calls.Add(1)
		if strings.HasSuffix(rec.Key, "bad") {
			return errors.New("boom")
		}
		return nil
	}
	records := []ObjectRecord{{Key: "a/ok"}, {Key: "a/bad"}, {Key: "b/bad"}, {Key: "c/ok"}}

	err := p.HandleRecords(context.Background(), "test", records, handler)
	if err == nil {
		t.Fatal("Expected aggregated error")
	}
	if calls.Load() != 4 {
		t.Errorf("Expected every record to be handled, got %d", calls.Load())
	}
	for _, key := range []string{"a/bad", "b/bad"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("Expected error to mention %s, got %v", key, err)
		}
	}
	if !strings.Contains(err.Error(), "2 of 4") {
		t.Errorf("Expected failure count in error, got %v", err)
	}

	if err := p.HandleRecords(context.Background(), "test", records[:1], handler); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestPipelineDispatch(t *testing.T) {
	store := newMemStore()
	p := NewPipeline(store, &fakeDetector{labels: catLabels()}, &fakeSynthesizer{}, testPipelineConfig())
	ctx := context.Background()

	store.PutObject(ctx, "uploads/abc", []byte("jpeg"), "image/jpeg")
	records := []ObjectRecord{{Key: "uploads/abc"}, {Key: "unrelated/abc"}}
	if err := p.Dispatch(ctx, records); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if _, ok := store.Object("rekognition-artifacts/abc"); !ok {
		t.Error("Expected label artifact for the dispatched upload")
	}
	if _, ok := store.Object("consolidated/abc"); ok {
		t.Error("Expected later stages to wait for their own notifications")
	}

	failing := NewPipeline(store, &fakeDetector{err: errors.New("quota exceeded")}, &fakeSynthesizer{}, testPipelineConfig())
	err := failing.Dispatch(ctx, []ObjectRecord{{Key: "uploads/abc"}, {Key: "polly-artifacts/none"}})
	if err == nil {
		t.Fatal("Expected dispatch error")
	}
	for _, want := range []string{"labels:", "summary:"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected error to mention %s, got %v", want, err)
		}
	}
}

func TestPipelineRun(t *testing.T) {
	store := newMemStore()
	p := NewPipeline(store, &fakeDetector{labels: catLabels()}, &fakeSynthesizer{}, testPipelineConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for store.ListenerCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for listeners")
		}
		time.Sleep(5 * time.Millisecond)
	}

	store.PutObject(context.Background(), "uploads/req-1", []byte("jpeg"), "image/jpeg")

	for {
		if _, ok := store.Object("consolidated/req-1"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for the result document")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
