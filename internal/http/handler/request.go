package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/gofiber/fiber/v2"

	"holodoc/internal/model"
	"holodoc/internal/vision"
)

// maxPhotoBytes bounds a single uploaded photo or raw camera frame.
const maxPhotoBytes = 32 << 20

var errInvalidForm = errors.New("invalid form")

// requestValidator validates request DTOs and reports fields by their json name.
type requestValidator struct {
	validate *validator.Validate
	trans    ut.Translator
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	enLocale := en.New()
	trans, _ := ut.New(enLocale, enLocale).GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)
	return &requestValidator{validate: v, trans: trans}
}

var requests = newRequestValidator()

// check validates s and returns a client-safe message on failure.
func (rv *requestValidator) check(s any) (string, bool) {
	err := rv.validate.Struct(s)
	if err == nil {
		return "", true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request", false
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Translate(rv.trans))
	}
	return strings.Join(msgs, "; "), false
}

// propertiesRequest carries optional document properties. Absent fields stay nil.
type propertiesRequest struct {
	Label       *string `json:"label" validate:"omitempty,max=200"`
	Author      *string `json:"author" validate:"omitempty,max=200"`
	Date        *string `json:"date" validate:"omitempty,max=64"`
	Description *string `json:"description" validate:"omitempty,max=4000"`
}

func (p propertiesRequest) patch() model.PropertiesPatch {
	return model.PropertiesPatch{
		Label:       p.Label,
		Author:      p.Author,
		Date:        p.Date,
		Description: p.Description,
	}
}

// linkRequest is the body of POST /links.
type linkRequest struct {
	Source string `json:"source" validate:"required,max=64"`
	Target string `json:"target" validate:"required,max=64"`
}

// CaptureLimits bounds what an uploaded photo may decode to.
type CaptureLimits struct {
	// MaxPixels caps width*height of an encoded photo. Zero uses vision.DefaultMaxCapturePixels.
	MaxPixels int
}

// captureForm is the non-file part of an ingest or match upload.
type captureForm struct {
	LinkTo     string `json:"link_to" validate:"omitempty,max=64"`
	Background string `json:"background" validate:"omitempty,hexcolor|len=6"`
	Width      int    `json:"width" validate:"gte=0,max=16384"`
	Height     int    `json:"height" validate:"gte=0,max=16384"`
	propertiesRequest
}

func formValue(form *multipart.Form, key string) (string, bool) {
	vs, ok := form.Value[key]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

func formOptional(form *multipart.Form, key string) *string {
	if v, ok := formValue(form, key); ok {
		return &v
	}
	return nil
}

func formInt(form *multipart.Form, key string) (int, error) {
	v, ok := formValue(form, key)
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errInvalidForm, key)
	}
	return n, nil
}

func parseCaptureForm(form *multipart.Form) (captureForm, error) {
	var (
		f   captureForm
		err error
	)
	f.LinkTo, _ = formValue(form, "link_to")
	f.Background, _ = formValue(form, "background")
	if f.Width, err = formInt(form, "width"); err != nil {
		return f, err
	}
	if f.Height, err = formInt(form, "height"); err != nil {
		return f, err
	}
	if (f.Width > 0) != (f.Height > 0) {
		return f, fmt.Errorf("%w: width and height must be given together", errInvalidForm)
	}
	f.Label = formOptional(form, "label")
	f.Author = formOptional(form, "author")
	f.Date = formOptional(form, "date")
	f.Description = formOptional(form, "description")
	return f, nil
}

func readPhoto(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > maxPhotoBytes {
		return nil, fmt.Errorf("%w: photo exceeds %d bytes", errInvalidForm, maxPhotoBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open photo", errInvalidForm)
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxPhotoBytes))
}

// parseCapture reads the multipart upload shared by ingest and match.
// It writes the error response itself and returns ok=false when the request is rejected.
func parseCapture(c *fiber.Ctx, limits CaptureLimits) (vision.Capture, captureForm, bool, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return vision.Capture{}, captureForm{}, false, writeError(c, fiber.StatusBadRequest, "PHOTO_REQUIRED", "multipart photo is required")
	}
	files := form.File["photo"]
	if len(files) == 0 {
		return vision.Capture{}, captureForm{}, false, writeError(c, fiber.StatusBadRequest, "PHOTO_REQUIRED", "photo is required")
	}

	cf, err := parseCaptureForm(form)
	if err != nil {
		return vision.Capture{}, cf, false, writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	}
	if msg, ok := requests.check(cf); !ok {
		return vision.Capture{}, cf, false, writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", msg)
	}

	data, err := readPhoto(files[0])
	if err != nil {
		return vision.Capture{}, cf, false, writeError(c, fiber.StatusBadRequest, "INVALID_PHOTO", err.Error())
	}

	var capture vision.Capture
	now := time.Now().UTC()
	if cf.Width > 0 {
		capture, err = vision.CaptureFromRGBA(data, cf.Width, cf.Height, now)
	} else {
		capture, err = vision.DecodeCapture(bytes.NewReader(data), now, limits.MaxPixels)
	}
	if errors.Is(err, vision.ErrCaptureTooLarge) {
		return vision.Capture{}, cf, false, writeError(c, fiber.StatusBadRequest, "INVALID_PHOTO", "photo resolution exceeds limit")
	}
	if err != nil {
		return vision.Capture{}, cf, false, writeError(c, fiber.StatusBadRequest, "INVALID_PHOTO", "photo cannot be decoded")
	}

	if cf.Background != "" {
		bg, err := vision.ParseColor(cf.Background)
		if err != nil {
			return vision.Capture{}, cf, false, writeError(c, fiber.StatusBadRequest, "INVALID_BACKGROUND", "background must be #RRGGBB")
		}
		capture.Background = &bg
	}
	return capture, cf, true, nil
}
