package rest

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/italolelis/musicdl/internal/media"
)

const defaultMaxRejections = 50

// Rejection is a submission that failed before its transfer started and so
// never appeared in the download list.
type Rejection struct {
	Key   string    `json:"key,omitempty"`
	Error string    `json:"error"`
	Kind  string    `json:"error_kind"`
	At    time.Time `json:"at"`
}

// Rejections keeps the most recent rejections, newest first.
// A nil *Rejections records nothing and lists nothing.
type Rejections struct {
	mu    sync.Mutex
	max   int
	items []Rejection
}

func NewRejections(max int) *Rejections {
	if max <= 0 {
		max = defaultMaxRejections
	}

	return &Rejections{max: max}
}

// Add records err. Errors wrapping a *media.ResolveError keep its key.
func (r *Rejections) Add(err error) {
	if r == nil || err == nil {
		return
	}

	rej := Rejection{Error: err.Error(), Kind: media.Kind(err), At: time.Now().UTC()}

	var rerr *media.ResolveError
	if errors.As(err, &rerr) {
		rej.Key = rerr.Key
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = append([]Rejection{rej}, r.items...)
	if len(r.items) > r.max {
		r.items = r.items[:r.max]
	}
}

func (r *Rejections) List() []Rejection {
	if r == nil {
		return []Rejection{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Rejection{}, r.items...)
}

// ListRejections returns the recent submissions that failed before transfer.
func (h *DownloadsHandler) ListRejections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.rejections.List())
}
