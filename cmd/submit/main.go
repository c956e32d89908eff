package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/AnTengye/photoinsight/config"
	"github.com/AnTengye/photoinsight/model"
	"github.com/AnTengye/photoinsight/pkg/logger"
	"github.com/AnTengye/photoinsight/remote"
	"github.com/AnTengye/photoinsight/submission"
)

func main() {
	var (
		configPath string
		filePath   string
		comment    string
		lang       string
		audioOut   string
	)
	flag.StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration")
	flag.StringVar(&filePath, "file", "", "image to analyze (required)")
	flag.StringVar(&comment, "comment", "", "feedback to send once the result is ready")
	flag.StringVar(&lang, "lang", model.DefaultLanguage, "language of the feedback comment")
	flag.StringVar(&audioOut, "out", "", "write the narration audio to this path")
	flag.Parse()

	if filePath == "" {
		fmt.Fprintln(os.Stderr, "-file is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, filePath, comment, lang, audioOut, os.Stdout); err != nil {
		slog.Error("submission failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, filePath, comment, lang, audioOut string, out io.Writer) error {
	base, err := cfg.Client.ResolveBaseEndpoint()
	if err != nil {
		return err
	}
	if base == "" {
		return errors.New("no API endpoint configured: set client.base_endpoint or client.manifest_path")
	}

	asset, err := loadAsset(filePath)
	if err != nil {
		return err
	}

	ctrl := newController(cfg, base)
	updates, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()
	go logTransitions(updates)

	session, err := ctrl.Submit(ctx, asset)
	if err != nil {
		return err
	}

	doc, err := session.Wait(ctx)
	if err != nil {
		ctrl.Purge()
		return fmt.Errorf("no result for %s: %w", asset.Filename, err)
	}
	printResult(out, asset, doc)

	if audioOut != "" && len(doc.Polly) > 0 {
		if err := os.WriteFile(audioOut, doc.Polly, 0o644); err != nil {
			return fmt.Errorf("failed to write audio: %w", err)
		}
		fmt.Fprintf(out, "narration written to %s\n", audioOut)
	}

	if comment != "" {
		fb, err := ctrl.SubmitComment(ctx, model.FeedbackBody{Language: lang, Comment: comment})
		if err != nil {
			return fmt.Errorf("failed to send feedback: %w", err)
		}
		printFeedback(out, fb)
	}
	return nil
}

func newController(cfg *config.Config, base string) *submission.Controller {
	opts := remote.Options{
		AuthToken: cfg.Client.AuthToken,
		Timeout:   time.Duration(cfg.Client.TimeoutSeconds) * time.Second,
	}
	return submission.NewController(submission.Options{
		BaseEndpoint: base,
		Targets:      remote.NewEndpointClient(opts),
		Uploader:     remote.NewUploadTransport(opts),
		Results:      remote.NewResultsClient(opts),
		Feedback:     remote.NewFeedbackSubmitter(opts),
		Policy: submission.PollPolicy{
			Interval:    cfg.Client.PollInterval(),
			MaxAttempts: cfg.Client.MaxAttempts,
		},
		KeepSuperseded: cfg.Client.CancelSuperseded != nil && !*cfg.Client.CancelSuperseded,
		MaxSessions:    cfg.Client.MaxSessions,
	})
}

// loadAsset reads an image and works out its content type from the
// extension, falling back to sniffing the bytes
func loadAsset(path string) (*model.Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &model.Asset{
		Filename:    filepath.Base(path),
		ContentType: contentType,
		Data:        data,
		Preview:     abs,
	}, nil
}

func logTransitions(updates <-chan submission.Snapshot) {
	var last submission.State
	for snap := range updates {
		if snap.State == last {
			continue
		}
		last = snap.State
		slog.Info("submission state", "state", string(snap.State), "session_id", snap.SessionID)
	}
}

func printResult(w io.Writer, asset *model.Asset, doc *model.ResultDocument) {
	fmt.Fprintf(w, "%s (%s)\n", asset.Filename, humanize.Bytes(uint64(asset.Size())))

	labels := doc.Labels()
	if len(labels) == 0 {
		fmt.Fprintln(w, "  no labels detected")
	}
	for _, l := range labels {
		fmt.Fprintf(w, "  %-24s %6.2f%%\n", l.Name, l.Confidence)
	}
	if doc.Sentiment != nil {
		fmt.Fprintf(w, "  sentiment  positive %.2f  negative %.2f  neutral %.2f  mixed %.2f\n",
			doc.Sentiment.Positive, doc.Sentiment.Negative, doc.Sentiment.Neutral, doc.Sentiment.Mixed)
	}
	if len(doc.Polly) > 0 {
		fmt.Fprintf(w, "  narration  %s\n", humanize.Bytes(uint64(len(doc.Polly))))
	}
}

func printFeedback(w io.Writer, fb *model.FeedbackDocument) {
	if fb == nil {
		return
	}
	if fb.Sentiment == nil {
		fmt.Fprintf(w, "feedback %q: no sentiment\n", fb.Comment)
		return
	}
	fmt.Fprintf(w, "feedback %q: %s\n", fb.Comment, fb.Sentiment.Sentiment)
}
