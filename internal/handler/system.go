package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/forgo/trellis/internal/async"
	"github.com/forgo/trellis/internal/middleware"
	"github.com/forgo/trellis/internal/model"
	"github.com/forgo/trellis/internal/routing"
)

// MaxMessageLength bounds the text of a posted message, in runes.
const MaxMessageLength = 280

// Health reports liveness.
func Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// WhoAmI describes the authenticated user of the request.
func WhoAmI(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	WriteData(w, http.StatusOK, map[string]any{
		"authenticated": user.IsAuthenticated(),
		"name":          user.DisplayName(),
		"scopes":        middleware.GetAuth(r.Context()).Scopes,
		"route":         routing.RoutePath(r),
	}, map[string]string{"self": r.URL.Path})
}

// uploadedFile summarizes one file part of an upload.
type uploadedFile struct {
	Field    string `json:"field"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// Upload parses a form and lists its fields and files. Temporary files are
// removed before the response is written.
func Upload(maxMemory int64) Func {
	return func(w http.ResponseWriter, r *http.Request) error {
		var (
			fields map[string][]string
			files  []uploadedFile
		)
		err := async.Using(r.Context(), Form(r, maxMemory), func(form *FormData) error {
			fields = form.Values
			for field, headers := range form.Files {
				for _, fh := range headers {
					files = append(files, uploadedFile{Field: field, Filename: fh.Filename, Size: fh.Size})
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		WriteData(w, http.StatusOK, map[string]any{"fields": fields, "files": files}, nil)
		return nil
	}
}

// Slow answers after delay unless the request is cancelled first.
func Slow(delay time.Duration) AsyncFunc {
	return func(r *http.Request) *async.Future[*Response] {
		return async.Go(r.Context(), func(ctx context.Context) (*Response, error) {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timer.C:
				return JSON(http.StatusOK, map[string]string{"waited": delay.String()}), nil
			}
		})
	}
}

// MessageRequest is the body accepted by PostMessage.
type MessageRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

func (m *MessageRequest) validate() []model.FieldError {
	var errs []model.FieldError
	if strings.TrimSpace(m.To) == "" {
		errs = append(errs, model.FieldError{Field: "to", Message: "is required"})
	}
	switch n := utf8.RuneCountInString(m.Text); {
	case strings.TrimSpace(m.Text) == "":
		errs = append(errs, model.FieldError{Field: "text", Message: "is required"})
	case n > MaxMessageLength:
		errs = append(errs, model.FieldError{Field: "text", Message: fmt.Sprintf("must be at most %d characters", MaxMessageLength)})
	}
	return errs
}

// PostMessage validates a JSON message and echoes it back signed by the
// requesting user.
func PostMessage(w http.ResponseWriter, r *http.Request) error {
	var req MessageRequest
	if err := DecodeJSON(r, &req); err != nil {
		return err
	}
	if errs := req.validate(); len(errs) > 0 {
		return model.NewValidationError(errs)
	}
	WriteData(w, http.StatusCreated, map[string]string{
		"from": middleware.GetUser(r.Context()).DisplayName(),
		"to":   req.To,
		"text": req.Text,
	}, map[string]string{"self": r.URL.Path})
	return nil
}
