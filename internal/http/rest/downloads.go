package rest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/musicdl/internal/logctx"
	"github.com/italolelis/musicdl/internal/media"
	"github.com/italolelis/musicdl/internal/storage"
	"github.com/italolelis/musicdl/internal/task"
)

const maxBodySize = 64 * 1024

// Coordinator is the part of the downloader the API drives.
type Coordinator interface {
	SubmitByKey(ctx context.Context, key string) bool
	SubmitWithDescriptor(ctx context.Context, key string, descriptor media.Descriptor) bool
	Cancel(ctx context.Context, key string)
	RemoveState(ctx context.Context, key string)
	Snapshot() []task.State
	State(key string) (task.State, bool)
}

// DestinationValidator checks that a location can be opened for writing.
type DestinationValidator interface {
	Validate(ctx context.Context, location string) error
}

type DownloadView struct {
	Key         string  `json:"key"`
	State       string  `json:"state"`
	Progress    float64 `json:"progress"`
	Title       string  `json:"title,omitempty"`
	Artist      string  `json:"artist,omitempty"`
	Format      string  `json:"format,omitempty"`
	Error       string  `json:"error,omitempty"`
	ErrorKind   string  `json:"error_kind,omitempty"`
	Description string  `json:"description"`
}

type submitRequest struct {
	URL string `json:"url"`
}

type submitResponse struct {
	Key      string `json:"key"`
	Accepted bool   `json:"accepted"`
}

type destinationBody struct {
	Location string `json:"location"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type DownloadsHandler struct {
	username    string
	password    string
	coordinator Coordinator
	prefs       storage.PreferenceRepository
	history     storage.DownloadRepository
	validator   DestinationValidator
	rejections  *Rejections
}

// NewDownloadsHandler creates the REST handler. Basic auth is enforced only
// when a username or password is set.
func NewDownloadsHandler(
	username, password string,
	coordinator Coordinator,
	prefs storage.PreferenceRepository,
	history storage.DownloadRepository,
	validator DestinationValidator,
	rejections *Rejections,
) *DownloadsHandler {
	return &DownloadsHandler{
		username:    username,
		password:    password,
		coordinator: coordinator,
		prefs:       prefs,
		history:     history,
		validator:   validator,
		rejections:  rejections,
	}
}

func (h *DownloadsHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" || h.password != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/downloads", h.ListDownloads)
		r.Post("/downloads", h.SubmitDownload)
		r.Post("/downloads/retry", h.RetryDownload)
		r.Delete("/downloads", h.DeleteDownload)
		r.Get("/downloads/rejected", h.ListRejections)

		r.Get("/destination", h.GetDestination)
		r.Put("/destination", h.PutDestination)

		r.Get("/history", h.ListHistory)
	})

	return r
}

// ListDownloads returns the current snapshot in registry order.
func (h *DownloadsHandler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	states := h.coordinator.Snapshot()

	views := make([]DownloadView, 0, len(states))
	for _, s := range states {
		views = append(views, NewDownloadView(s))
	}

	writeJSON(w, http.StatusOK, views)
}

func (h *DownloadsHandler) SubmitDownload(w http.ResponseWriter, r *http.Request) {
	key, ok := decodeKey(w, r)
	if !ok {
		return
	}

	accepted := h.coordinator.SubmitByKey(r.Context(), key)

	logctx.LoggerFromContext(r.Context()).Debug("download submitted", "key", key, "accepted", accepted)

	writeJSON(w, http.StatusAccepted, submitResponse{Key: key, Accepted: accepted})
}

// RetryDownload resubmits the descriptor kept by a failed entry, skipping resolution.
func (h *DownloadsHandler) RetryDownload(w http.ResponseWriter, r *http.Request) {
	key, ok := decodeKey(w, r)
	if !ok {
		return
	}

	current, found := h.coordinator.State(key)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no download for %s", key))

		return
	}

	failed, isFailure := current.(task.Failure)
	if !isFailure {
		writeError(w, http.StatusConflict, fmt.Sprintf("download for %s is %s, not failure", key, current.Status()))

		return
	}

	accepted := h.coordinator.SubmitWithDescriptor(r.Context(), key, failed.Info)

	writeJSON(w, http.StatusAccepted, submitResponse{Key: key, Accepted: accepted})
}

// DeleteDownload cancels the key's task. With cancel=false it only drops the
// entry and lets a running task finish unobserved.
func (h *DownloadsHandler) DeleteDownload(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("url"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "url is required")

		return
	}

	cancel := true

	if raw := r.URL.Query().Get("cancel"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "cancel must be a boolean")

			return
		}

		cancel = v
	}

	if cancel {
		h.coordinator.Cancel(r.Context(), key)
	} else {
		h.coordinator.RemoveState(r.Context(), key)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DownloadsHandler) GetDestination(w http.ResponseWriter, r *http.Request) {
	location, err := h.prefs.Destination(r.Context())
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "destination is not set")

		return
	}

	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to read destination", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read destination")

		return
	}

	writeJSON(w, http.StatusOK, destinationBody{Location: location})
}

func (h *DownloadsHandler) PutDestination(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var body destinationBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	body.Location = strings.TrimSpace(body.Location)
	if body.Location == "" {
		writeError(w, http.StatusBadRequest, "location is required")

		return
	}

	if err := h.validator.Validate(r.Context(), body.Location); err != nil {
		logger.Warn("rejected destination", "location", body.Location, "err", err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())

		return
	}

	if err := h.prefs.SetDestination(r.Context(), body.Location); err != nil {
		logger.Error("failed to store destination", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to store destination")

		return
	}

	logger.Info("destination changed", "location", body.Location)

	writeJSON(w, http.StatusOK, body)
}

func (h *DownloadsHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.history.GetDownloads(r.Context())
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to read history", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")

		return
	}

	if records == nil {
		records = []storage.DownloadRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

func (h *DownloadsHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="musicdl"`)
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(h.username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) == 1

		if !userOK || !passOK {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewDownloadView flattens a task state for JSON rendering.
func NewDownloadView(s task.State) DownloadView {
	v := DownloadView{
		Key:         s.Key(),
		State:       string(s.Status()),
		Description: task.Describe(s),
	}

	if info, ok := s.(task.Informational); ok {
		d := info.Descriptor()
		v.Title = d.Info.Title
		v.Artist = d.Info.Artist
		v.Format = formatLabel(d.Format)
	}

	switch s := s.(type) {
	case task.InProgress:
		v.Progress = s.Progress
	case task.Completed, task.AlreadyExists:
		v.Progress = 100
	case task.Failure:
		if s.Err != nil {
			v.Error = s.Err.Error()
			v.ErrorKind = media.Kind(s.Err)
		}
	}

	return v
}

func formatLabel(f media.Format) string {
	if f.Extension == "" {
		return ""
	}

	label := f.Extension + " " + f.Quality.String()
	if f.Bitrate > 0 {
		label += " " + strconv.Itoa(f.Bitrate/1000) + "kbps"
	}

	return label
}

func decodeKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return "", false
	}

	key := strings.TrimSpace(req.URL)
	if key == "" {
		writeError(w, http.StatusBadRequest, "url is required")

		return "", false
	}

	return key, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
