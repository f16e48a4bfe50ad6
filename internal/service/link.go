package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"go.uber.org/zap"

	"holodoc/internal/logging"
	"holodoc/internal/model"
	"holodoc/internal/repository"
)

// LinkResult describes an AddLink call. Created is false when the edge already existed.
type LinkResult struct {
	Link    model.Link `json:"link"`
	Created bool       `json:"created"`
}

// LinkService defines the use cases on the document link graph.
type LinkService interface {
	// AddLink connects two existing documents. Adding an existing edge succeeds with Created=false.
	AddLink(ctx context.Context, a, b string) (*LinkResult, error)
	// RemoveLink deletes the edge between a and b, or returns ErrLinkNotFound.
	RemoveLink(ctx context.Context, a, b string) error
	// Neighbors returns a restartable sequence over a snapshot of the documents linked to id.
	Neighbors(ctx context.Context, id string) (iter.Seq[string], error)
}

// LinkGraph maintains undirected links between stored documents.
type LinkGraph struct {
	docs  repository.DocumentRepository
	links repository.LinkRepository
	log   *zap.Logger
	now   func() time.Time
}

// NewLinkGraph constructs a LinkGraph.
func NewLinkGraph(docs repository.DocumentRepository, links repository.LinkRepository, log *zap.Logger) *LinkGraph {
	if log == nil {
		log = zap.NewNop()
	}
	return &LinkGraph{
		docs:  docs,
		links: links,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

var _ LinkService = (*LinkGraph)(nil)

func (g *LinkGraph) mustExist(ctx context.Context, id string) error {
	ok, err := g.docs.Exists(ctx, id)
	if err != nil {
		return persistence("check document", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDocument, id)
	}
	return nil
}

func (g *LinkGraph) endpoints(ctx context.Context, a, b string) (string, string, error) {
	a, err := normalizeID(a)
	if err != nil {
		return "", "", err
	}
	b, err = normalizeID(b)
	if err != nil {
		return "", "", err
	}
	if a == b {
		return "", "", ErrSelfLink
	}
	if err := g.mustExist(ctx, a); err != nil {
		return "", "", err
	}
	if err := g.mustExist(ctx, b); err != nil {
		return "", "", err
	}
	return a, b, nil
}

func (g *LinkGraph) AddLink(ctx context.Context, a, b string) (*LinkResult, error) {
	a, b, err := g.endpoints(ctx, a, b)
	if err != nil {
		return nil, err
	}
	link := model.Link{Source: a, Target: b, CreatedAt: g.now()}
	created, err := g.links.Add(ctx, link)
	if err != nil {
		return nil, persistence("add link", err)
	}
	g.log.Info("link_added",
		append(logging.ContextFields(ctx),
			zap.String("source", a),
			zap.String("target", b),
			zap.Bool("created", created),
		)...)
	return &LinkResult{Link: link, Created: created}, nil
}

func (g *LinkGraph) RemoveLink(ctx context.Context, a, b string) error {
	a, b, err := g.endpoints(ctx, a, b)
	if err != nil {
		return err
	}
	removed, err := g.links.Remove(ctx, a, b)
	if err != nil {
		return persistence("remove link", err)
	}
	if !removed {
		return ErrLinkNotFound
	}
	g.log.Info("link_removed",
		append(logging.ContextFields(ctx), zap.String("source", a), zap.String("target", b))...)
	return nil
}

func (g *LinkGraph) Neighbors(ctx context.Context, id string) (iter.Seq[string], error) {
	id, err := normalizeID(id)
	if err != nil {
		return nil, err
	}
	if err := g.mustExist(ctx, id); err != nil {
		return nil, err
	}
	ids, err := g.links.Neighbors(ctx, id)
	if err != nil {
		return nil, persistence("list links", err)
	}
	return slices.Values(slices.Compact(ids)), nil
}

// linkOutcome classifies an AddLink failure raised during ingest.
func linkOutcome(target string, res *LinkResult, err error) *LinkOutcome {
	switch {
	case err == nil && res.Created:
		return &LinkOutcome{Status: LinkCreated, Target: target}
	case err == nil:
		return &LinkOutcome{Status: LinkExisting, Target: target}
	case errors.Is(err, ErrSelfLink), errors.Is(err, ErrUnknownDocument), errors.Is(err, ErrIDRequired):
		return &LinkOutcome{Status: LinkRejected, Target: target, Reason: err.Error()}
	default:
		return &LinkOutcome{Status: LinkFailed, Target: target, Reason: err.Error()}
	}
}
