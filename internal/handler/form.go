package handler

import (
	"context"
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/forgo/trellis/internal/async"
	"github.com/forgo/trellis/internal/model"
)

// DefaultMaxMemory is the multipart size kept in memory before spilling to
// temporary files.
const DefaultMaxMemory = 32 << 20

// FormData is a parsed request form.
type FormData struct {
	Values url.Values
	Files  map[string][]*multipart.FileHeader

	form *multipart.Form
}

// Get returns the first value for key.
func (f *FormData) Get(key string) string {
	return f.Values.Get(key)
}

// File returns the first uploaded file for key.
func (f *FormData) File(key string) (*multipart.FileHeader, bool) {
	files := f.Files[key]
	if len(files) == 0 {
		return nil, false
	}
	return files[0], true
}

// Close removes temporary files left by multipart parsing.
func (f *FormData) Close(context.Context) error {
	if f.form == nil {
		return nil
	}
	return f.form.RemoveAll()
}

// Form parses the request body and exposes the result as a resource. The
// body is read on the calling goroutine, so it is never touched after the
// handler returns. The result can be awaited directly, in which case the
// caller closes it, or entered for a scope with async.Using.
func Form(r *http.Request, maxMemory int64) *async.Resource[*FormData] {
	if maxMemory <= 0 {
		maxMemory = DefaultMaxMemory
	}
	data, err := parseForm(r, maxMemory)
	if err != nil {
		return async.NewResource(async.Failed[*FormData](err))
	}
	return async.NewResource(async.Resolved(data))
}

func parseForm(r *http.Request, maxMemory int64) (*FormData, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxMemory); err != nil {
			return nil, badForm(err)
		}
		data := &FormData{Values: r.Form, form: r.MultipartForm, Files: map[string][]*multipart.FileHeader{}}
		if r.MultipartForm != nil {
			data.Files = r.MultipartForm.File
		}
		return data, nil
	case "application/x-www-form-urlencoded", "":
		if err := r.ParseForm(); err != nil {
			return nil, badForm(err)
		}
		return &FormData{Values: r.Form, Files: map[string][]*multipart.FileHeader{}}, nil
	}

	httpErr, _ := model.NewHTTPError(http.StatusUnsupportedMediaType,
		model.WithDetail("unsupported form content type "+mediaType))
	return nil, httpErr
}

func badForm(err error) error {
	detail := "invalid form body: " + err.Error()
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httpErr, _ := model.NewHTTPError(http.StatusRequestEntityTooLarge, model.WithDetail(detail))
		return httpErr
	}
	httpErr, _ := model.NewHTTPError(http.StatusBadRequest, model.WithDetail(detail))
	return httpErr
}
