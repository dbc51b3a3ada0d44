package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/hairhub/platform/libs/httpx"
	"github.com/hairhub/platform/services/booking-service/internal/apperr"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeProblem(w http.ResponseWriter, kind apperr.Kind, msg string) {
	writeJSON(w, apperr.HTTPStatus(kind), errorResponse{Error: string(kind), Message: msg})
}

// writeError maps classified errors to their status and hides everything else
// behind a logged 500.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	if kind != apperr.KindInternal {
		writeProblem(w, kind, err.Error())
		return
	}
	logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", httpx.RequestIDFromContext(r.Context()),
		"err", err,
	)
	writeProblem(w, apperr.KindInternal, "internal error")
}

func writeUnauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "authentication required"})
}

// principal returns the caller id set by the gateway or auth.RequireAuth.
func principal(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(httpx.UserIDHeader))
}

// decodeBody accepts an empty body when optional is set.
func decodeBody(r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return nil
	}
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return apperr.BadRequest("request body too large")
	}
	return apperr.BadRequest("invalid json body")
}

func pageParams(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), 0)
	if err != nil {
		return 0, 0, apperr.BadRequest("page must be an integer")
	}
	size, err := intParam(q.Get("size"), 0)
	if err != nil {
		return 0, 0, apperr.BadRequest("size must be an integer")
	}
	return page, size, nil
}

func intParam(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
