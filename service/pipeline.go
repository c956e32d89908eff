package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AnTengye/photoinsight/config"
	"github.com/AnTengye/photoinsight/model"
)

const (
	TagAccess       = "access"
	TagAccessPublic = "public"

	recordConcurrency = 10
)

// ObjectRecord is one object named by a storage notification
type ObjectRecord struct {
	Bucket string
	Key    string
	Size   int64
}

// ObjectEvent is a batch of records delivered by a single notification
type ObjectEvent struct {
	Records []ObjectRecord
	Err     error
}

// ObjectStore is the storage the pipeline reads from, writes to and listens on
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	PutJSON(ctx context.Context, key string, v any, tags map[string]string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	Listen(ctx context.Context, prefix string) <-chan ObjectEvent
}

type LabelDetector interface {
	DetectLabels(ctx context.Context, image []byte, contentType string) (*model.LabelSet, error)
}

type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error)
}

type recordHandler func(ctx context.Context, rec ObjectRecord) error

// Pipeline chains the analysis stages over storage notifications:
// uploads feed label detection, label artifacts feed narration and
// narration artifacts feed the consolidated result document.
type Pipeline struct {
	store  ObjectStore
	labels LabelDetector
	speech SpeechSynthesizer
	cfg    config.PipelineConfig
}

func NewPipeline(store ObjectStore, labels LabelDetector, speech SpeechSynthesizer, cfg config.PipelineConfig) *Pipeline {
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	return &Pipeline{
		store:  store,
		labels: labels,
		speech: speech,
		cfg:    cfg,
	}
}

type stage struct {
	name    string
	prefix  string
	handler recordHandler
}

func (p *Pipeline) stages() []stage {
	return []stage{
		{"labels", p.cfg.Uploads + "/", p.DetectLabels},
		{"speech", p.cfg.LabelArtifacts + "/", p.Narrate},
		{"summary", p.cfg.SpeechArtifacts + "/", p.Summarize},
	}
}

// Run listens on every stage's keyspace until ctx is cancelled
func (p *Pipeline) Run(ctx context.Context) error {
	eg, gctx := errgroup.WithContext(ctx)
	for _, st := range p.stages() {
		eg.Go(func() error {
			return p.listen(gctx, st.name, st.prefix, st.handler)
		})
	}
	err := eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Dispatch routes pushed records to the stage owning their keyspace.
// Records outside every keyspace are ignored.
func (p *Pipeline) Dispatch(ctx context.Context, records []ObjectRecord) error {
	var failed []error
	for _, st := range p.stages() {
		var matched []ObjectRecord
		for _, rec := range records {
			if strings.HasPrefix(rec.Key, st.prefix) {
				matched = append(matched, rec)
			}
		}
		if len(matched) == 0 {
			continue
		}
		if err := p.HandleRecords(ctx, st.name, matched, st.handler); err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", st.name, err))
		}
	}
	return errors.Join(failed...)
}

func (p *Pipeline) listen(ctx context.Context, stage, prefix string, handler recordHandler) error {
	slog.Info("pipeline stage listening", "stage", stage, "prefix", prefix)
	events := p.store.Listen(ctx, prefix)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%s: notification stream closed", stage)
			}
			if ev.Err != nil {
				slog.Error("notification error", "stage", stage, "error", ev.Err)
				continue
			}
			if err := p.HandleRecords(ctx, stage, ev.Records, handler); err != nil {
				slog.Error("pipeline stage failed", "stage", stage, "error", err)
			}
		}
	}
}

// HandleRecords runs handler for every record concurrently and reports all
// failures together
func (p *Pipeline) HandleRecords(ctx context.Context, stage string, records []ObjectRecord, handler recordHandler) error {
	var (
		eg     errgroup.Group
		mu     sync.Mutex
		failed []error
	)
	eg.SetLimit(recordConcurrency)

	for _, rec := range records {
		eg.Go(func() error {
			if err := handler(ctx, rec); err != nil {
				mu.Lock()
				failed = append(failed, fmt.Errorf("%s: %w", rec.Key, err))
				mu.Unlock()
				return nil
			}
			slog.Debug("record processed", "stage", stage, "key", rec.Key)
			return nil
		})
	}
	eg.Wait()

	handled := len(records) - len(failed)
	slog.Info("notification processed", "stage", stage, "handled", handled, "failed", len(failed))
	if len(failed) != 0 {
		return fmt.Errorf("failed to process %d of %d records: %w", len(failed), len(records), errors.Join(failed...))
	}
	return nil
}

// DetectLabels runs label detection on an uploaded image
func (p *Pipeline) DetectLabels(ctx context.Context, rec ObjectRecord) error {
	image, err := p.store.GetObject(ctx, rec.Key)
	if err != nil {
		return err
	}

	labels, err := p.labels.DetectLabels(ctx, image, "")
	if err != nil {
		return fmt.Errorf("failed to detect labels: %w", err)
	}

	key := p.artifactKey(p.cfg.LabelArtifacts, rec.Key)
	if err := p.store.PutJSON(ctx, key, labels, nil); err != nil {
		return err
	}
	slog.Info("labels stored", "key", key, "labels", len(labels.Labels))
	return nil
}

// Narrate synthesizes speech describing the top label of a label artifact
func (p *Pipeline) Narrate(ctx context.Context, rec ObjectRecord) error {
	labels, err := p.readLabels(ctx, rec.Key)
	if err != nil {
		return err
	}

	text, textType := Narrate(labels)
	audio, err := p.speech.Synthesize(ctx, SpeechRequest{
		Text:         text,
		TextType:     textType,
		OutputFormat: OutputFormatMP3,
		VoiceID:      p.cfg.Voice,
	})
	if err != nil {
		return fmt.Errorf("failed to synthesize speech: %w", err)
	}

	key := p.artifactKey(p.cfg.SpeechArtifacts, rec.Key)
	if err := p.store.PutObject(ctx, key, audio, "audio/mpeg3"); err != nil {
		return err
	}
	slog.Info("narration stored", "key", key, "text_type", textType)
	return nil
}

// Summarize merges the label and speech artifacts into the public result document
func (p *Pipeline) Summarize(ctx context.Context, rec ObjectRecord) error {
	base := BaseKeyName(rec.Key)

	labels, err := p.readLabels(ctx, p.cfg.LabelArtifacts+"/"+base)
	if err != nil {
		return err
	}
	audio, err := p.store.GetObject(ctx, p.cfg.SpeechArtifacts+"/"+base)
	if err != nil {
		return err
	}

	key := p.cfg.Consolidated + "/" + base
	doc := model.ResultDocument{Rekognition: labels, Polly: audio}
	if err := p.store.PutJSON(ctx, key, doc, map[string]string{TagAccess: TagAccessPublic}); err != nil {
		return err
	}
	slog.Info("result document stored", "key", key)
	return nil
}

func (p *Pipeline) readLabels(ctx context.Context, key string) (*model.LabelSet, error) {
	data, err := p.store.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	var labels model.LabelSet
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("failed to parse labels %s: %w", key, err)
	}
	return &labels, nil
}

func (p *Pipeline) artifactKey(keyspace, sourceKey string) string {
	return keyspace + "/" + BaseKeyName(sourceKey)
}

// BaseKeyName returns the last element of an object key without its extension
func BaseKeyName(key string) string {
	parts := strings.Split(key, "/")
	name := parts[len(parts)-1]
	return strings.TrimSuffix(name, path.Ext(name))
}
