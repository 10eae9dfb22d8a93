package web

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	trailerrors "github.com/calebhsu/codetrail/internal/errors"
)

// writeJSON renders v with the given status. Encoding failures are logged;
// the status line has already been sent by then.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: failed to encode response: %v", err)
	}
}

// writeError maps an error to its JSON error body. Unknown error values
// become 500 INTERNAL.
func writeError(w http.ResponseWriter, err error) {
	tErr, ok := err.(*trailerrors.TrailError)
	if !ok {
		tErr = trailerrors.NewInternal(err)
	}
	if tErr.Status >= 500 {
		log.Printf("web: %v", err)
	}
	body := map[string]any{
		"error":   string(tErr.Code),
		"message": tErr.Message,
	}
	if len(tErr.Details) > 0 {
		body["details"] = tErr.Details
	}
	writeJSON(w, tErr.Status, body)
}

// page is the pagination envelope wrapped around every collection.
type page struct {
	Items      any   `json:"items"`
	Total      int64 `json:"total"`
	Offset     int   `json:"offset"`
	Limit      int   `json:"limit"`
	Page       int   `json:"page"`
	TotalPages int   `json:"total_pages"`
}

// newPage derives page and total_pages from the offsets that produced the
// collection. items must be non-nil so empty pages render as [].
func newPage(items any, total int64, offset, limit int) page {
	totalPages := 0
	pageNo := 1
	if limit > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
		pageNo = offset/limit + 1
	}
	return page{
		Items:      items,
		Total:      total,
		Offset:     offset,
		Limit:      limit,
		Page:       pageNo,
		TotalPages: totalPages,
	}
}

// decodeBody decodes the JSON request body into dst, mapping failures to
// INVALID_REQUEST.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return trailerrors.NewInvalidRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// pathID parses the {id} path value as an int64.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, trailerrors.NewInvalidRequest("invalid id: " + r.PathValue("id"))
	}
	return id, nil
}

// queryInt reads an integer query parameter with a default.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// queryBoolPtr reads an optional boolean query parameter.
func queryBoolPtr(r *http.Request, name string) *bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}

// queryInt64Ptr reads an optional integer query parameter.
func queryInt64Ptr(r *http.Request, name string) *int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}
