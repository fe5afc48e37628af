package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/italolelis/musicdl/internal/library"
	"github.com/italolelis/musicdl/internal/media"
	"github.com/italolelis/musicdl/internal/storage/sqlite"
	"github.com/italolelis/musicdl/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCoordinator struct {
	mu        sync.Mutex
	states    []task.State
	submitted []string
	retried   []media.Descriptor
	cancelled []string
	removed   []string
}

func (c *fakeCoordinator) SubmitByKey(_ context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if task.Index(c.states, key) >= 0 {
		return false
	}

	c.submitted = append(c.submitted, key)
	c.states = append(c.states, task.Pending{URL: key})

	return true
}

func (c *fakeCoordinator) SubmitWithDescriptor(_ context.Context, _ string, d media.Descriptor) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.retried = append(c.retried, d)

	return true
}

func (c *fakeCoordinator) Cancel(_ context.Context, key string) {
	c.cancelled = append(c.cancelled, key)
}

func (c *fakeCoordinator) RemoveState(_ context.Context, key string) {
	c.removed = append(c.removed, key)
}

func (c *fakeCoordinator) Snapshot() []task.State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]task.State(nil), c.states...)
}

func (c *fakeCoordinator) State(key string) (task.State, bool) {
	return task.Find(c.Snapshot(), key)
}

var song = media.Descriptor{
	Info:   media.Info{Title: "Song", Artist: "Band"},
	Format: media.Format{Bitrate: 160000, Quality: media.QualityHigh, Extension: "opus"},
}

func newTestHandler(t *testing.T, coord *fakeCoordinator, user, pass string) (http.Handler, *sqlite.PreferenceRepository, *sqlite.DownloadRepository) {
	t.Helper()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	prefs := sqlite.NewPreferenceRepository(db)
	history := sqlite.NewDownloadRepository(db)

	lib := library.New()
	t.Cleanup(func() { lib.Close() })

	return NewDownloadsHandler(user, pass, coord, prefs, history, lib, nil).Routes(), prefs, history
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestSubmitAndListDownloads(t *testing.T) {
	coord := &fakeCoordinator{}
	h, _, _ := newTestHandler(t, coord, "", "")

	rec := do(t, h, http.MethodPost, "/api/downloads", `{"url":"https://youtu.be/abc"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Accepted)

	rec = do(t, h, http.MethodPost, "/api/downloads", `{"url":"https://youtu.be/abc"}`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Accepted)

	rec = do(t, h, http.MethodGet, "/api/downloads", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []DownloadView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "pending", views[0].State)
	assert.Equal(t, "Pending: https://youtu.be/abc", views[0].Description)
}

func TestSubmitDownload_BadRequest(t *testing.T) {
	h, _, _ := newTestHandler(t, &fakeCoordinator{}, "", "")

	tests := []string{``, `{`, `{"url":""}`, `{"url":"   "}`}
	for _, body := range tests {
		rec := do(t, h, http.MethodPost, "/api/downloads", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestRetryDownload(t *testing.T) {
	tests := []struct {
		name   string
		states []task.State
		want   int
	}{
		{"missing", nil, http.StatusNotFound},
		{"not failed", []task.State{task.InProgress{URL: "k", Info: song}}, http.StatusConflict},
		{"failed", []task.State{task.Failure{URL: "k", Info: song, Err: media.ErrIO}}, http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coord := &fakeCoordinator{states: tt.states}
			h, _, _ := newTestHandler(t, coord, "", "")

			rec := do(t, h, http.MethodPost, "/api/downloads/retry", `{"url":"k"}`)
			assert.Equal(t, tt.want, rec.Code)

			if tt.want == http.StatusAccepted {
				assert.Equal(t, []media.Descriptor{song}, coord.retried)
			} else {
				assert.Empty(t, coord.retried)
			}
		})
	}
}

func TestDeleteDownload(t *testing.T) {
	coord := &fakeCoordinator{}
	h, _, _ := newTestHandler(t, coord, "", "")

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/downloads?url=a", "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/downloads?url=b&cancel=false", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodDelete, "/api/downloads?url=c&cancel=maybe", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodDelete, "/api/downloads", "").Code)

	assert.Equal(t, []string{"a"}, coord.cancelled)
	assert.Equal(t, []string{"b"}, coord.removed)
}

func TestDestination(t *testing.T) {
	h, prefs, _ := newTestHandler(t, &fakeCoordinator{}, "", "")

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/destination", "").Code)

	rec := do(t, h, http.MethodPut, "/api/destination", `{"location":"bogus://nowhere"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/destination", `{"location":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	dir := t.TempDir()
	rec = do(t, h, http.MethodPut, "/api/destination", `{"location":"`+dir+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := prefs.Destination(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dir, stored)

	rec = do(t, h, http.MethodGet, "/api/destination", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body destinationBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, dir, body.Location)
}

func TestListHistory(t *testing.T) {
	h, _, history := newTestHandler(t, &fakeCoordinator{}, "", "")

	rec := do(t, h, http.MethodGet, "/api/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	require.NoError(t, history.RecordDownload(context.Background(), "k", "Band_Song.opus", "mem://"))

	rec = do(t, h, http.MethodGet, "/api/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"file_name":"Band_Song.opus"`)
}

func TestBasicAuth(t *testing.T) {
	h, _, _ := newTestHandler(t, &fakeCoordinator{}, "user", "secret")

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/downloads", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/downloads", nil)
	req.SetBasicAuth("user", "wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/downloads", nil)
	req.SetBasicAuth("user", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewDownloadView(t *testing.T) {
	tests := []struct {
		name  string
		state task.State
		want  DownloadView
	}{
		{
			name:  "in progress",
			state: task.InProgress{URL: "k", Info: song, Progress: 42},
			want: DownloadView{
				Key: "k", State: "in_progress", Progress: 42, Title: "Song", Artist: "Band",
				Format: "opus high 160kbps", Description: "Progress 42.0 Band: Song",
			},
		},
		{
			name:  "failure",
			state: task.Failure{URL: "k", Info: song, Err: media.Cancelled(nil)},
			want: DownloadView{
				Key: "k", State: "failure", Title: "Song", Artist: "Band", Format: "opus high 160kbps",
				Error: "cancelled", ErrorKind: "cancelled", Description: "Failed to download Band: Song. Error: cancelled",
			},
		},
		{
			name:  "completed",
			state: task.Completed{URL: "k", Info: song},
			want: DownloadView{
				Key: "k", State: "completed", Progress: 100, Title: "Song", Artist: "Band",
				Format: "opus high 160kbps", Description: "Successfully downloaded Band: Song",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewDownloadView(tt.state))
		})
	}
}
