package handler

import (
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"holodoc/internal/service"
)

// Pinger reports whether the document store is reachable. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Services bundles the use cases exposed over HTTP.
type Services struct {
	Documents service.DocumentService
	Ingest    service.IngestService
	Links     service.LinkService
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// db may be nil when documents live in memory.
func RegisterRoutes(app *fiber.App, db Pinger, svc Services, limits CaptureLimits) {
	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	docs := app.Group("/documents")
	docs.Get("/", ListDocuments(svc.Documents))
	docs.Post("/ingest", IngestDocument(svc.Ingest, limits))
	docs.Post("/match", MatchDocument(svc.Ingest, limits))
	docs.Get("/:id", GetDocument(svc.Documents))
	docs.Patch("/:id", PatchDocument(svc.Documents))
	docs.Get("/:id/image", GetDocumentImage(svc.Documents))
	docs.Get("/:id/links", ListLinks(svc.Links))

	app.Post("/links", CreateLink(svc.Links))
	app.Delete("/links/:source/:target", DeleteLink(svc.Links))
}

// HealthCheck pings the database. Without one the service is always healthy.
func HealthCheck(db Pinger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if db == nil {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
		}
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe always answers 200.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// ListDocuments godoc
// @Summary List documents
// @Param limit query int false "page size" default(10)
// @Param offset query int false "page offset" default(0)
// @Success 200 {object} service.DocumentListResult
// @Router /documents [get]
func ListDocuments(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := svc.List(c.UserContext(), limit, offset)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	}
}

// GetDocument godoc
// @Summary Get a document with a temporary image URL
// @Param id path string true "document id"
// @Success 200 {object} service.DocumentDetail
// @Router /documents/{id} [get]
func GetDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		doc, err := svc.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(doc)
	}
}

// GetDocumentImage streams the rectified PNG of a document.
// @Router /documents/{id}/image [get]
func GetDocumentImage(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rc, info, err := svc.OpenImage(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		ct := info.ContentType
		if ct == "" {
			ct = "image/png"
		}
		c.Set(fiber.HeaderContentType, ct)
		if info.ETag != "" {
			c.Set(fiber.HeaderETag, strconv.Quote(info.ETag))
		}
		size := -1
		if info.Size > 0 {
			size = int(info.Size)
		}
		// fasthttp closes rc once the body is written.
		return c.SendStream(rc, size)
	}
}

// PatchDocument godoc
// @Summary Update document properties
// @Param id path string true "document id"
// @Success 200 {object} model.Document
// @Router /documents/{id} [patch]
func PatchDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req propertiesRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		}
		if msg, ok := requests.check(req); !ok {
			return writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", msg)
		}
		doc, err := svc.UpdateProperties(c.UserContext(), c.Params("id"), req.patch())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(doc)
	}
}

// IngestDocument godoc
// @Summary Ingest a photo as a new or refreshed document
// @Accept multipart/form-data
// @Param photo formData file true "photo (PNG, JPEG, WebP) or raw RGBA frame"
// @Success 201 {object} service.IngestResult
// @Success 200 {object} service.IngestResult
// @Failure 422 {object} errorPayload
// @Router /documents/ingest [post]
func IngestDocument(svc service.IngestService, limits CaptureLimits) fiber.Handler {
	return func(c *fiber.Ctx) error {
		capture, form, ok, err := parseCapture(c, limits)
		if !ok {
			return err
		}
		res, err := svc.Ingest(c.UserContext(), service.IngestRequest{
			Capture:    capture,
			LinkTo:     form.LinkTo,
			Properties: form.patch(),
		})
		if err != nil {
			return respondError(c, err)
		}
		status := fiber.StatusOK
		if res.Verdict == service.VerdictCreated {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(res)
	}
}

// MatchDocument godoc
// @Summary Identify a photo without storing it
// @Accept multipart/form-data
// @Success 200 {object} service.MatchResult
// @Router /documents/match [post]
func MatchDocument(svc service.IngestService, limits CaptureLimits) fiber.Handler {
	return func(c *fiber.Ctx) error {
		capture, _, ok, err := parseCapture(c, limits)
		if !ok {
			return err
		}
		res, err := svc.Match(c.UserContext(), capture)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	}
}

// ListLinks returns the documents linked to :id.
// @Router /documents/{id}/links [get]
func ListLinks(svc service.LinkService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		seq, err := svc.Neighbors(c.UserContext(), id)
		if err != nil {
			return respondError(c, err)
		}
		neighbors := slices.Collect(seq)
		if neighbors == nil {
			neighbors = []string{}
		}
		return c.JSON(fiber.Map{"id": id, "neighbors": neighbors})
	}
}

// CreateLink godoc
// @Summary Link two documents
// @Success 201 {object} service.LinkResult
// @Success 200 {object} service.LinkResult
// @Router /links [post]
func CreateLink(svc service.LinkService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req linkRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		}
		if msg, ok := requests.check(req); !ok {
			return writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", msg)
		}
		res, err := svc.AddLink(c.UserContext(), req.Source, req.Target)
		if err != nil {
			return respondError(c, err)
		}
		status := fiber.StatusOK
		if res.Created {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(res)
	}
}

// DeleteLink removes the link between :source and :target.
// @Router /links/{source}/{target} [delete]
func DeleteLink(svc service.LinkService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := svc.RemoveLink(c.UserContext(), c.Params("source"), c.Params("target")); err != nil {
			return respondError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
