package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"path"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"holodoc/internal/logging"
	"holodoc/internal/match"
	"holodoc/internal/model"
	"holodoc/internal/repository"
	"holodoc/internal/storage"
	"holodoc/internal/vision"
	"holodoc/internal/worker"
)

// Stage is a step of the capture pipeline.
type Stage string

const (
	StageReceived       Stage = "received"
	StageRectifying     Stage = "rectifying"
	StageFingerprinting Stage = "fingerprinting"
	StageMatching       Stage = "matching"
	StageCreating       Stage = "creating"
	StageUpdating       Stage = "updating"
	StageLinkCheck      Stage = "link_check"
	StageDone           Stage = "done"
	StageFailed         Stage = "failed"
)

// Verdict tells whether a capture created a document or refreshed a known one.
type Verdict string

const (
	VerdictCreated Verdict = "created"
	VerdictMatched Verdict = "matched"
)

// LinkStatus is the result of the optional link step of an ingest.
type LinkStatus string

const (
	LinkCreated  LinkStatus = "created"
	LinkExisting LinkStatus = "existing"
	LinkRejected LinkStatus = "rejected"
	LinkFailed   LinkStatus = "failed"
)

// LinkOutcome reports what happened to the link requested with a capture.
type LinkOutcome struct {
	Status LinkStatus `json:"status"`
	Target string     `json:"target"`
	Reason string     `json:"reason,omitempty"`
}

// IngestRequest is one capture plus the client's in-progress state.
type IngestRequest struct {
	Capture vision.Capture
	// LinkTo optionally names a document the capture should be linked to.
	LinkTo string
	// Properties are applied on create and merged on match.
	Properties model.PropertiesPatch
}

// IngestResult is the outcome of a successful ingest.
type IngestResult struct {
	Document  *model.Document        `json:"document"`
	Rectified *vision.RectifiedImage `json:"-"`
	Verdict   Verdict                `json:"verdict"`
	Match     match.Result           `json:"match"`
	Link      *LinkOutcome           `json:"link,omitempty"`
	Warnings  []string               `json:"warnings,omitempty"`
}

// MatchResult is the outcome of a read-only match query.
type MatchResult struct {
	Match   match.Result `json:"match"`
	Corners model.Quad   `json:"corners"`
	Width   int          `json:"width"`
	Height  int          `json:"height"`
}

// IngestError reports the stage at which a capture failed.
type IngestError struct {
	Stage Stage
	Err   error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest failed at %s: %v", e.Stage, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// IngestService defines the capture pipeline use cases.
type IngestService interface {
	// Ingest rectifies a capture, matches it and stores it as a new or refreshed document.
	Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error)
	// Match rectifies and matches a capture without writing anything.
	Match(ctx context.Context, capture vision.Capture) (*MatchResult, error)
}

// CoordinatorDeps are the collaborators of a Coordinator.
type CoordinatorDeps struct {
	Corrector     *vision.Corrector
	Fingerprinter *vision.Fingerprinter
	Engine        *match.Engine
	Documents     repository.DocumentRepository
	Images        storage.Storage
	Links         LinkService
	Pool          *worker.Pool
	Metrics       *Metrics
	Logger        *zap.Logger
	// DefaultAuthor fills the author of new documents created without one.
	DefaultAuthor string
}

// Coordinator runs captures through the pipeline. Captures are independent:
// it keeps no per-capture state between calls and is safe for concurrent use.
type Coordinator struct {
	corrector     *vision.Corrector
	fingerprinter *vision.Fingerprinter
	engine        *match.Engine
	docs          repository.DocumentRepository
	images        storage.Storage
	links         LinkService
	pool          *worker.Pool
	metrics       *Metrics
	log           *zap.Logger
	tracer        trace.Tracer
	defaultAuthor string

	now   func() time.Time
	newID func() string
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(deps CoordinatorDeps) (*Coordinator, error) {
	switch {
	case deps.Corrector == nil, deps.Fingerprinter == nil, deps.Engine == nil:
		return nil, errors.New("coordinator: vision and match components are required")
	case deps.Documents == nil, deps.Images == nil, deps.Links == nil:
		return nil, errors.New("coordinator: repositories are required")
	case deps.Pool == nil:
		return nil, errors.New("coordinator: worker pool is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		m, err := NewMetrics(nil)
		if err != nil {
			return nil, err
		}
		deps.Metrics = m
	}
	return &Coordinator{
		corrector:     deps.Corrector,
		fingerprinter: deps.Fingerprinter,
		engine:        deps.Engine,
		docs:          deps.Documents,
		images:        deps.Images,
		links:         deps.Links,
		pool:          deps.Pool,
		metrics:       deps.Metrics,
		log:           deps.Logger.Named("ingest"),
		tracer:        otel.Tracer("holodoc/internal/service"),
		defaultAuthor: deps.DefaultAuthor,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}, nil
}

var _ IngestService = (*Coordinator)(nil)

// stage runs fn as one traced, timed and logged pipeline step.
func (c *Coordinator) stage(ctx context.Context, log *zap.Logger, st Stage, fn func(context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "ingest."+string(st))
	defer span.End()

	log.Debug("ingest_stage", zap.String("stage", string(st)))
	start := time.Now()
	err := fn(ctx)
	c.metrics.stageDuration.WithLabelValues(string(st)).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// fail records the failure and wraps err with its stage.
func (c *Coordinator) fail(log *zap.Logger, span trace.Span, st Stage, err error) error {
	c.metrics.failures.WithLabelValues(string(st)).Inc()
	c.metrics.ingestTotal.WithLabelValues(string(StageFailed)).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	fields := []zap.Field{zap.String("stage", string(StageFailed)), zap.String("failed_stage", string(st)), zap.Error(err)}
	if errors.Is(err, vision.ErrNoDocumentDetected) || errors.Is(err, context.Canceled) {
		log.Info("ingest_failed", fields...)
	} else {
		log.Error("ingest_failed", fields...)
	}
	return &IngestError{Stage: st, Err: err}
}

// analyze runs the CPU stages on the worker pool. On error it never reads the
// task results, which may still be written by an abandoned worker.
func (c *Coordinator) analyze(ctx context.Context, log *zap.Logger, capture vision.Capture) (*vision.RectifiedImage, model.Fingerprint, Stage, error) {
	var (
		rect *vision.RectifiedImage
		fp   model.Fingerprint
	)
	err := c.stage(ctx, log, StageRectifying, func(ctx context.Context) error {
		return c.pool.Do(ctx, func() error {
			var err error
			rect, err = c.corrector.Rectify(capture)
			return err
		})
	})
	if err != nil {
		return nil, model.Fingerprint{}, StageRectifying, err
	}

	err = c.stage(ctx, log, StageFingerprinting, func(ctx context.Context) error {
		return c.pool.Do(ctx, func() error {
			fp = c.fingerprinter.Fingerprint(rect)
			return nil
		})
	})
	if err != nil {
		return nil, model.Fingerprint{}, StageFingerprinting, err
	}
	return rect, fp, "", nil
}

func (c *Coordinator) matchStage(ctx context.Context, log *zap.Logger, fp model.Fingerprint) (match.Result, error) {
	var res match.Result
	err := c.stage(ctx, log, StageMatching, func(ctx context.Context) error {
		var err error
		res, err = c.engine.Match(ctx, fp)
		if err != nil {
			return persistence("match", err)
		}
		return nil
	})
	return res, err
}

// Match rectifies and fingerprints the capture and looks it up without writing anything.
func (c *Coordinator) Match(ctx context.Context, capture vision.Capture) (*MatchResult, error) {
	ctx, span := c.tracer.Start(ctx, "match")
	defer span.End()
	log := c.log.With(logging.ContextFields(ctx)...)
	log.Debug("ingest_stage", zap.String("stage", string(StageReceived)), zap.Bool("read_only", true))

	rect, fp, st, err := c.analyze(ctx, log, capture)
	if err != nil {
		return nil, c.fail(log, span, st, err)
	}
	res, err := c.matchStage(ctx, log, fp)
	if err != nil {
		return nil, c.fail(log, span, StageMatching, err)
	}
	return &MatchResult{Match: res, Corners: rect.Corners, Width: rect.Width(), Height: rect.Height()}, nil
}

// Ingest runs a capture through Received, Rectifying, Fingerprinting, Matching,
// Creating or Updating, LinkCheck and Done. Cancellation before the document
// is written aborts with the context error; written work is never rolled back.
func (c *Coordinator) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	ctx, span := c.tracer.Start(ctx, "ingest")
	defer span.End()
	log := c.log.With(logging.ContextFields(ctx)...)
	log.Debug("ingest_stage",
		zap.String("stage", string(StageReceived)),
		zap.Int("width", req.Capture.Width()),
		zap.Int("height", req.Capture.Height()),
		zap.Bool("link_requested", req.LinkTo != ""),
	)

	rect, fp, st, err := c.analyze(ctx, log, req.Capture)
	if err != nil {
		return nil, c.fail(log, span, st, err)
	}
	m, err := c.matchStage(ctx, log, fp)
	if err != nil {
		return nil, c.fail(log, span, StageMatching, err)
	}

	res := &IngestResult{Rectified: rect, Match: m}
	if m.Matched {
		st = StageUpdating
		err = c.stage(ctx, log, st, func(ctx context.Context) error {
			doc, warnings, err := c.update(ctx, m.DocumentID, rect, fp, req.Properties)
			res.Document, res.Warnings = doc, append(res.Warnings, warnings...)
			return err
		})
		res.Verdict = VerdictMatched
	} else {
		st = StageCreating
		err = c.stage(ctx, log, st, func(ctx context.Context) error {
			doc, err := c.create(ctx, rect, fp, req.Properties)
			res.Document = doc
			return err
		})
		res.Verdict = VerdictCreated
	}
	if err != nil {
		return nil, c.fail(log, span, st, err)
	}
	span.SetAttributes(
		attribute.String("document.id", res.Document.ID),
		attribute.String("ingest.verdict", string(res.Verdict)),
	)

	if req.LinkTo != "" {
		_ = c.stage(ctx, log, StageLinkCheck, func(ctx context.Context) error {
			lr, err := c.links.AddLink(ctx, res.Document.ID, req.LinkTo)
			res.Link = linkOutcome(req.LinkTo, lr, err)
			if err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("link to %s %s: %v", req.LinkTo, res.Link.Status, err))
			}
			return err
		})
	}

	for _, w := range res.Warnings {
		log.Warn("ingest_warning", zap.String("document_id", res.Document.ID), zap.String("warning", w))
	}
	c.metrics.ingestTotal.WithLabelValues(string(res.Verdict)).Inc()
	log.Info("ingest_done",
		zap.String("stage", string(StageDone)),
		zap.String("document_id", res.Document.ID),
		zap.String("verdict", string(res.Verdict)),
		zap.Float64("distance", m.Distance),
		zap.Int("warnings", len(res.Warnings)),
	)
	return res, nil
}

func imageKey(docID string) string {
	return path.Join("documents", docID, uuid.NewString()+".png")
}

// putImage encodes the rectified image as PNG and uploads it under a fresh key.
func (c *Coordinator) putImage(ctx context.Context, docID string, rect *vision.RectifiedImage) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, rect.Image); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	key := imageKey(docID)
	_, err := c.images.Put(ctx, key, &buf, storage.PutObjectOptions{
		Size:        int64(buf.Len()),
		ContentType: "image/png",
		Metadata:    map[string]string{"document-id": docID},
	})
	if err != nil {
		return "", persistence("upload image", err)
	}
	return key, nil
}

// deleteImage removes a blob even when ctx has been canceled.
func (c *Coordinator) deleteImage(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return c.images.Delete(ctx, key)
}

func (c *Coordinator) create(ctx context.Context, rect *vision.RectifiedImage, fp model.Fingerprint, patch model.PropertiesPatch) (*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := c.newID()
	key, err := c.putImage(ctx, id, rect)
	if err != nil {
		return nil, err
	}

	props := patch.Apply(model.DocProperties{})
	if props.Author == "" {
		props.Author = c.defaultAuthor
	}
	now := c.now()
	doc := &model.Document{
		ID:          id,
		ImageKey:    key,
		Corners:     rect.Corners,
		Fingerprint: fp,
		Properties:  props,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	stored, err := c.docs.Create(ctx, doc)
	if err != nil {
		if delErr := c.deleteImage(ctx, key); delErr != nil {
			return nil, persistence("create document", fmt.Errorf("%w; rollback delete failed: %v", err, delErr))
		}
		return nil, persistence("create document", err)
	}
	return stored, nil
}

func (c *Coordinator) update(ctx context.Context, id string, rect *vision.RectifiedImage, fp model.Fingerprint, patch model.PropertiesPatch) (*model.Document, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	prev, err := c.docs.FindByID(ctx, id)
	if err != nil {
		return nil, nil, persistence("load matched document", err)
	}
	key, err := c.putImage(ctx, id, rect)
	if err != nil {
		return nil, nil, err
	}

	doc, err := c.docs.UpdateImage(ctx, id, model.ImageUpdate{
		ImageKey:    key,
		Corners:     rect.Corners,
		Fingerprint: fp,
	}, c.now())
	if err != nil {
		if delErr := c.deleteImage(ctx, key); delErr != nil {
			return nil, nil, persistence("update document", fmt.Errorf("%w; rollback delete failed: %v", err, delErr))
		}
		return nil, nil, persistence("update document", err)
	}

	var warnings []string
	if prev.ImageKey != "" && prev.ImageKey != key {
		if err := c.deleteImage(ctx, prev.ImageKey); err != nil {
			warnings = append(warnings, fmt.Sprintf("previous image %s not deleted: %v", prev.ImageKey, err))
		}
	}
	if !patch.IsEmpty() {
		updated, err := c.docs.UpdateProperties(ctx, id, patch, c.now())
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("properties not updated: %v", err))
		} else {
			doc = updated
		}
	}
	return doc, warnings, nil
}
