// Package resolver resolves YouTube links into track metadata through a
// metadata proxy service.
//
// The proxy exposes GET /videos/{id} and answers with the title, the artist
// and every audio format it can stream.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/italolelis/musicdl/internal/logctx"
	"github.com/italolelis/musicdl/internal/media"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultBaseURL = "http://localhost:8080"
	DefaultTimeout = 10 * time.Second
)

type videoFormat struct {
	Bitrate    int    `json:"bitrate"`
	SampleRate int    `json:"sampleRate"`
	Quality    string `json:"audioQuality"`
	Extension  string `json:"extension"`
	DurationMs int64  `json:"durationMs"`
	URL        string `json:"url"`
}

type video struct {
	ID      string        `json:"videoId"`
	Title   string        `json:"title"`
	Author  string        `json:"author"`
	Formats []videoFormat `json:"audioFormats"`
}

// Client talks to the metadata proxy.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a resolver for the proxy at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: DefaultTimeout,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ParseKey extracts the video id from a YouTube link.
//
// Supported forms are https://www.youtube.com/watch?v=<id>, https://youtu.be/<id>
// and yt:<id>.
func ParseKey(key string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(key))
	if err != nil {
		return "", fmt.Errorf("%w: %s", media.ErrInvalidKey, key)
	}

	var id string

	switch host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www."); {
	case u.Scheme == "yt":
		id = u.Opaque
	case host == "youtu.be":
		id = strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)[0]
	case host == "youtube.com" || host == "m.youtube.com" || host == "music.youtube.com":
		if u.Path == "/watch" {
			id = u.Query().Get("v")
		}
	}

	if id == "" {
		return "", fmt.Errorf("%w: %s", media.ErrInvalidKey, key)
	}

	return id, nil
}

// Resolve returns the metadata and audio formats for key.
func (c *Client) Resolve(ctx context.Context, key string) (media.Info, error) {
	id, err := ParseKey(key)
	if err != nil {
		return media.Info{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var v video
	if err := c.get(ctx, "/videos/"+url.PathEscape(id), &v); err != nil {
		return media.Info{}, err
	}

	logctx.LoggerFromContext(ctx).Debug("resolved video", "video_id", id, "formats", len(v.Formats))

	return toInfo(v), nil
}

func (c *Client) get(ctx context.Context, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return media.Cancelled(err)
		}

		return &media.IOError{Op: "resolve", Path: endpoint, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", media.ErrNotFound, endpoint)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		var errResp struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Detail != "" {
			return &media.IOError{Op: "resolve", Path: endpoint, Err: fmt.Errorf("status %d: %s", resp.StatusCode, errResp.Detail)}
		}

		return &media.IOError{Op: "resolve", Path: endpoint, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return &media.IOError{Op: "decode", Path: endpoint, Err: err}
	}

	return nil
}

func toInfo(v video) media.Info {
	info := media.Info{
		Title:  v.Title,
		Artist: v.Author,
	}

	for _, f := range v.Formats {
		info.Formats = append(info.Formats, media.Format{
			Bitrate:    f.Bitrate,
			SampleRate: f.SampleRate,
			Quality:    media.ParseQuality(f.Quality),
			Extension:  f.Extension,
			DurationMs: f.DurationMs,
			URL:        f.URL,
		})
	}

	return info
}
