package resolver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/italolelis/musicdl/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{key: "https://youtube.com/watch?v=abc&t=42", want: "abc"},
		{key: "https://music.youtube.com/watch?v=abc", want: "abc"},
		{key: "https://youtu.be/abc", want: "abc"},
		{key: "https://youtu.be/abc/extra?si=x", want: "abc"},
		{key: "yt:abc", want: "abc"},
		{key: "  https://youtu.be/abc  ", want: "abc"},
		{key: "https://youtube.com/playlist?list=PL1", wantErr: true},
		{key: "https://youtube.com/watch", wantErr: true},
		{key: "https://vimeo.com/123", wantErr: true},
		{key: "not a url", wantErr: true},
		{key: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := ParseKey(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, media.ErrInvalidKey)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("")

	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, DefaultTimeout, c.timeout)

	c = NewClient("http://proxy:9000/", WithTimeout(time.Second))
	assert.Equal(t, "http://proxy:9000", c.baseURL)
	assert.Equal(t, time.Second, c.timeout)
}

func TestClient_Resolve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/videos/abc", r.URL.Path)

		json.NewEncoder(w).Encode(map[string]any{
			"videoId": "abc",
			"title":   "Title",
			"author":  "Artist",
			"audioFormats": []map[string]any{
				{"bitrate": 48, "sampleRate": 22050, "audioQuality": "low", "extension": "m4a", "url": "http://cdn/low"},
				{"bitrate": 160, "sampleRate": 48000, "audioQuality": "medium", "extension": "webm", "durationMs": 1000, "url": "http://cdn/med"},
				{"bitrate": 0, "audioQuality": "noAudio", "extension": "mp4", "url": "http://cdn/none"},
			},
		})
	}))
	defer server.Close()

	info, err := NewClient(server.URL).Resolve(context.Background(), "https://youtu.be/abc")
	require.NoError(t, err)

	assert.Equal(t, "Title", info.Title)
	assert.Equal(t, "Artist", info.Artist)
	require.Len(t, info.Formats, 3)
	assert.Equal(t, media.QualityLow, info.Formats[0].Quality)
	assert.Equal(t, media.QualityMedium, info.Formats[1].Quality)
	assert.Equal(t, media.QualityUnknown, info.Formats[2].Quality)
	assert.Equal(t, int64(1000), info.Formats[1].DurationMs)

	best, err := info.BestFormat()
	require.NoError(t, err)
	assert.Equal(t, "http://cdn/med", best.URL)
}

func TestClient_ResolveErrors(t *testing.T) {
	tests := map[string]struct {
		handler http.HandlerFunc
		want    error
	}{
		"not found": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
			want: media.ErrNotFound,
		},
		"server error": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				w.Write([]byte(`{"detail":"upstream unavailable"}`))
			},
			want: media.ErrIO,
		},
		"bad payload": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"title":`))
			},
			want: media.ErrIO,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := NewClient(server.URL).Resolve(context.Background(), "yt:abc")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_ResolveTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	_, err := NewClient(server.URL, WithTimeout(50*time.Millisecond)).Resolve(context.Background(), "yt:abc")
	require.Error(t, err)
	assert.ErrorIs(t, err, media.ErrIO)
	assert.NotErrorIs(t, err, media.ErrCancelled)
}

func TestClient_ResolveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		<-r.Context().Done()
	}))
	defer server.Close()

	_, err := NewClient(server.URL).Resolve(ctx, "yt:abc")
	assert.ErrorIs(t, err, media.ErrCancelled)
}

func TestClient_InvalidKeySkipsRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer server.Close()

	_, err := NewClient(server.URL).Resolve(context.Background(), "https://example.com/song.mp3")
	assert.ErrorIs(t, err, media.ErrInvalidKey)
}

func TestInstrumentedResolver_NilTelemetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	r := NewInstrumentedResolver(NewClient(server.URL), nil, "youtube")

	_, err := r.Resolve(context.Background(), "yt:abc")
	assert.ErrorIs(t, err, media.ErrNotFound)
}
