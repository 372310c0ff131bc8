package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"hoslog/internal/hos"
	"hoslog/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Status   int               `json:"status"`
	Detail   string            `json:"detail,omitempty"`
	Instance string            `json:"instance,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps domain and store errors to a problem document. title is
// used for anything that is not a known client error.
func writeError(w http.ResponseWriter, r *http.Request, title string, err error) {
	var verrs hos.ValidationErrors
	var verr *hos.ValidationError
	var mal *hos.MalformedItineraryError
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, Problem{
			Type: "about:blank", Title: "Invalid trip context", Status: http.StatusBadRequest,
			Detail: err.Error(), Instance: r.URL.Path, Fields: verrs.Fields(),
		})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, Problem{
			Type: "about:blank", Title: "Invalid trip context", Status: http.StatusBadRequest,
			Detail: err.Error(), Instance: r.URL.Path, Fields: hos.ValidationErrors{verr}.Fields(),
		})
	case errors.As(err, &mal):
		writeProblem(w, http.StatusUnprocessableEntity, "Malformed itinerary", err.Error(), r.URL.Path)
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
	default:
		writeProblem(w, http.StatusInternalServerError, title, err.Error(), r.URL.Path)
	}
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return false
	}
	return true
}
