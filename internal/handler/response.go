package handler

import (
	"encoding/json"
	"net/http"

	"github.com/forgo/trellis/internal/model"
)

// DataResponse wraps a successful response with optional HATEOAS links
type DataResponse struct {
	Data  interface{}       `json:"data"`
	Links map[string]string `json:"_links,omitempty"`
}

// Response is a complete response produced by an asynchronous endpoint
type Response struct {
	Status  int
	Headers http.Header
	// Body is encoded as JSON; nil writes no body.
	Body interface{}
}

// JSON returns a response carrying body with status.
func JSON(status int, body interface{}) *Response {
	return &Response{Status: status, Body: body}
}

// Write sends the response. A zero status means 200, or 204 when there is no body.
func (resp *Response) Write(w http.ResponseWriter) {
	for key, values := range resp.Headers {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
		if resp.Body == nil {
			status = http.StatusNoContent
		}
	}
	if resp.Body == nil {
		w.WriteHeader(status)
		return
	}
	WriteJSON(w, status, resp.Body)
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteData writes a successful data response
func WriteData(w http.ResponseWriter, status int, data interface{}, links map[string]string) {
	response := DataResponse{
		Data:  data,
		Links: links,
	}
	WriteJSON(w, status, response)
}

// DecodeJSON decodes a JSON request body into the given struct. Failures
// come back as a 400 HTTP error ready to be returned from a Func.
func DecodeJSON(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		httpErr, _ := model.NewHTTPError(http.StatusBadRequest, model.WithDetail("invalid JSON body: "+err.Error()))
		return httpErr
	}
	return nil
}
