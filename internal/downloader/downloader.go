// Package downloader owns the registry of download tasks. It keeps at most one
// entry per key, runs every accepted key in its own goroutine and publishes
// each change of the registry as a full snapshot.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/italolelis/musicdl/internal/fetcher"
	"github.com/italolelis/musicdl/internal/fetcher/progress"
	"github.com/italolelis/musicdl/internal/logctx"
	"github.com/italolelis/musicdl/internal/media"
	"github.com/italolelis/musicdl/internal/task"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultErrorBuffer = 16

// Resolver turns a key into media metadata.
type Resolver interface {
	Resolve(ctx context.Context, key string) (media.Info, error)
}

// PreferenceStore returns the destination chosen by the user.
// It fails with media.ErrDestinationUnavailable when none is set.
type PreferenceStore interface {
	RequireDestination(ctx context.Context) (string, error)
}

// Library is the permanent, user-visible storage.
type Library interface {
	Exists(ctx context.Context, location, name string) (bool, error)
	Finalize(ctx context.Context, tempPath, location, name string) error
}

// Fetcher streams a remote file into a temporary file.
type Fetcher interface {
	Stream(ctx context.Context, src, fileName string) <-chan fetcher.Event
}

// HistoryRecorder keeps a record of finalized downloads.
type HistoryRecorder interface {
	RecordDownload(ctx context.Context, key, fileName, location string) error
}

// Metrics receives download business metrics.
type Metrics interface {
	RecordDownload(status string, duration time.Duration)
	IncrementActiveDownloads()
	DecrementActiveDownloads()
}

type job struct {
	key    string
	cancel context.CancelFunc
}

// Downloader is the task registry and coordinator.
type Downloader struct {
	resolver Resolver
	prefs    PreferenceStore
	library  Library
	fetcher  Fetcher
	history  HistoryRecorder
	metrics  Metrics

	// mu guards states and jobs. It is never held across I/O.
	mu     sync.Mutex
	states []task.State
	jobs   map[string]*job

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed bool

	broadcast *broadcaster

	// OnError receives failures that happened before a transfer started.
	// The entry for the key is already gone when the error is delivered.
	OnError chan error
}

type Option func(*Downloader)

// WithHistory records every completed download.
func WithHistory(h HistoryRecorder) Option {
	return func(d *Downloader) {
		d.history = h
	}
}

func WithMetrics(m Metrics) Option {
	return func(d *Downloader) {
		d.metrics = m
	}
}

func NewDownloader(resolver Resolver, prefs PreferenceStore, library Library, f Fetcher, opts ...Option) *Downloader {
	base, stop := context.WithCancel(context.Background())

	d := &Downloader{
		resolver:  resolver,
		prefs:     prefs,
		library:   library,
		fetcher:   f,
		metrics:   noopMetrics{},
		states:    []task.State{},
		jobs:      make(map[string]*job),
		base:      base,
		stop:      stop,
		broadcast: newBroadcaster(),
		OnError:   make(chan error, defaultErrorBuffer),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Close cancels every running task, waits for them to settle and closes
// OnError and all subscriptions.
func (d *Downloader) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()

		return
	}
	d.closed = true
	d.mu.Unlock()

	d.stop()
	d.wg.Wait()

	d.broadcast.close()
	close(d.OnError)
}

// SubmitByKey starts a download for key. It does nothing and returns false if
// an entry for key exists that is not a Failure.
func (d *Downloader) SubmitByKey(ctx context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}

	if s, ok := task.Find(d.states, key); ok && s.Status() != task.StatusFailure {
		logctx.LoggerFromContext(ctx).Debug("download already tracked", "key", key, "status", s.Status())

		return false
	}

	jobCtx, j := d.startJobLocked(ctx, key)
	d.putLocked(task.Pending{URL: key})

	go d.run(jobCtx, j, nil)

	return true
}

// SubmitWithDescriptor transfers descriptor under key without resolving it
// again. Any task running for key is cancelled and replaced.
func (d *Downloader) SubmitWithDescriptor(ctx context.Context, key string, descriptor media.Descriptor) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}

	jobCtx, j := d.startJobLocked(ctx, key)
	d.putLocked(task.InProgress{Info: descriptor, URL: key})

	go d.run(jobCtx, j, &descriptor)

	return true
}

// Cancel stops the task for key and removes its entry. Calling it for an
// unknown key does nothing.
func (d *Downloader) Cancel(ctx context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if j, ok := d.jobs[key]; ok {
		delete(d.jobs, key)
		j.cancel()
	}

	if d.removeLocked(key) {
		logctx.LoggerFromContext(ctx).Info("download cancelled", "key", key)
	}
}

// RemoveState removes the entry for key and forgets its task without
// cancelling it. Calling it for an unknown key does nothing.
func (d *Downloader) RemoveState(ctx context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.jobs, key)
	d.removeLocked(key)
}

// Snapshot returns a copy of all current entries in insertion order.
func (d *Downloader) Snapshot() []task.State {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.snapshotLocked()
}

// State returns the entry for key.
func (d *Downloader) State(key string) (task.State, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return task.Find(d.states, key)
}

// Subscribe returns a channel carrying the latest snapshot. The current one is
// available immediately; intermediate snapshots may be skipped by slow readers.
// The channel is closed when ctx is done or the downloader is closed.
func (d *Downloader) Subscribe(ctx context.Context) <-chan []task.State {
	return d.broadcast.subscribe(ctx)
}

// startJobLocked registers a new task for key, replacing and cancelling any
// previous one. The returned context keeps ctx's values but is cancelled only
// by the task's own cancel or by Close.
func (d *Downloader) startJobLocked(ctx context.Context, key string) (context.Context, *job) {
	if old, ok := d.jobs[key]; ok {
		old.cancel()
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(d.base, cancel)

	j := &job{
		key: key,
		cancel: func() {
			stop()
			cancel()
		},
	}

	d.jobs[key] = j
	d.wg.Add(1)

	return jobCtx, j
}

func (d *Downloader) run(ctx context.Context, j *job, descriptor *media.Descriptor) {
	defer d.finish(j)

	ctx = logctx.WithTaskKey(ctx, j.key)

	ctx, span := otel.Tracer("musicdl/downloader").Start(ctx, "download")
	defer span.End()

	source := "resolve"
	if descriptor != nil {
		source = "retry"
	}

	span.SetAttributes(attribute.String("download.source", source))

	logger := logctx.LoggerFromContext(ctx)
	start := time.Now()

	if descriptor == nil {
		var (
			prepared media.Descriptor
			exists   bool
		)

		err := protect(func() error {
			var err error
			prepared, exists, err = d.prepare(ctx, j.key)

			return err
		})
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			d.abandon(ctx, j, err)

			return
		}

		if exists {
			logger.Info("file already exists at destination", "file", prepared.FileName())

			if d.update(j, task.AlreadyExists{Info: prepared, URL: j.key}) {
				d.metrics.RecordDownload(string(task.StatusAlreadyExists), time.Since(start))
			}

			return
		}

		descriptor = &prepared
	}

	var location string

	err := protect(func() error {
		var err error
		location, err = d.transfer(ctx, j, *descriptor)

		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())

		if errors.Is(err, media.ErrCancelled) {
			logger.Info("download cancelled", "err", err)
		} else {
			logger.Error("download failed", "err", err)
		}

		if d.update(j, task.Failure{Info: *descriptor, Err: err, URL: j.key}) {
			d.metrics.RecordDownload(string(task.StatusFailure), time.Since(start))
		}

		return
	}

	if d.history != nil {
		if err := d.history.RecordDownload(ctx, j.key, descriptor.FileName(), location); err != nil {
			logger.Warn("failed to record download history", "err", err)
		}
	}

	if d.update(j, task.Completed{Info: *descriptor, URL: j.key}) {
		d.metrics.RecordDownload(string(task.StatusCompleted), time.Since(start))
		logger.Info("download completed", "file", descriptor.FileName(), "location", location)
	}
}

// prepare resolves key, selects the best format and checks whether the file
// is already at the destination.
func (d *Downloader) prepare(ctx context.Context, key string) (media.Descriptor, bool, error) {
	info, err := d.resolver.Resolve(ctx, key)
	if err != nil {
		return media.Descriptor{}, false, err
	}

	descriptor, err := media.NewDescriptor(info)
	if err != nil {
		return media.Descriptor{}, false, err
	}

	location, err := d.prefs.RequireDestination(ctx)
	if err != nil {
		return media.Descriptor{}, false, err
	}

	exists, err := d.library.Exists(ctx, location, descriptor.FileName())
	if err != nil {
		return media.Descriptor{}, false, err
	}

	return descriptor, exists, nil
}

// transfer moves descriptor's file into the destination and returns the location used.
func (d *Downloader) transfer(ctx context.Context, j *job, descriptor media.Descriptor) (string, error) {
	d.metrics.IncrementActiveDownloads()
	defer d.metrics.DecrementActiveDownloads()

	d.update(j, task.InProgress{Info: descriptor, URL: j.key})

	location, err := d.prefs.RequireDestination(ctx)
	if err != nil {
		return "", err
	}

	final := d.stream(ctx, j, descriptor)

	switch {
	case final.Err != nil:
		return "", final.Err
	case final.Path == "":
		return "", media.Cancelled(ctx.Err())
	}

	d.setProgress(j, 100)

	err = d.library.Finalize(ctx, final.Path, location, descriptor.FileName())

	if rmErr := os.Remove(final.Path); rmErr != nil && !os.IsNotExist(rmErr) {
		logctx.LoggerFromContext(ctx).Warn("failed to remove temp file", "file", final.Path, "err", rmErr)
	}

	if err != nil {
		return "", err
	}

	return location, nil
}

// stream runs the fetcher for descriptor and folds its progress into j's
// entry. Progress values arriving faster than they are applied are conflated.
func (d *Downloader) stream(ctx context.Context, j *job, descriptor media.Descriptor) fetcher.Event {
	slot := newProgressSlot()
	folded := make(chan struct{})

	go func() {
		defer close(folded)

		slot.drain(func(p float64) {
			d.setProgress(j, p)
		})
	}()

	defer func() {
		slot.close()
		<-folded
	}()

	var final fetcher.Event

	for ev := range d.fetcher.Stream(ctx, descriptor.Format.URL, descriptor.FileName()) {
		if ev.Done() {
			final = ev

			continue
		}

		slot.offer(ev.Progress)
	}

	return final
}

// update replaces j's entry with s if j is still the task registered for its key.
func (d *Downloader) update(j *job, s task.State) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.jobs[j.key] != j {
		return false
	}

	d.putLocked(s)

	return true
}

// setProgress folds p into j's entry if it is still in progress. Progress never decreases.
func (d *Downloader) setProgress(j *job, p float64) {
	p = progress.Clamp(p)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.jobs[j.key] != j {
		return
	}

	i := task.Index(d.states, j.key)
	if i < 0 {
		return
	}

	current, ok := d.states[i].(task.InProgress)
	if !ok || p <= current.Progress {
		return
	}

	current.Progress = p
	d.putLocked(current)
}

// abandon drops j's entry after a failure before the transfer and reports err on OnError.
func (d *Downloader) abandon(ctx context.Context, j *job, err error) {
	d.mu.Lock()
	current := d.jobs[j.key] == j
	if current {
		delete(d.jobs, j.key)
		d.removeLocked(j.key)
	}
	d.mu.Unlock()

	if !current {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	if ctx.Err() != nil {
		logger.Info("download cancelled before transfer", "err", err)

		return
	}

	logger.Warn("failed to prepare download", "err", err, "kind", media.Kind(err))

	select {
	case d.OnError <- &media.ResolveError{Key: j.key, Err: err}:
	default:
		logger.Warn("error channel full, dropping error", "err", err)
	}
}

func (d *Downloader) finish(j *job) {
	d.mu.Lock()
	if d.jobs[j.key] == j {
		delete(d.jobs, j.key)
	}
	d.mu.Unlock()

	j.cancel()
	d.wg.Done()
}

// putLocked replaces the entry for s's key in place or appends it, then publishes.
func (d *Downloader) putLocked(s task.State) {
	if i := task.Index(d.states, s.Key()); i >= 0 {
		d.states[i] = s
	} else {
		d.states = append(d.states, s)
	}

	d.broadcast.publish(d.snapshotLocked())
}

func (d *Downloader) removeLocked(key string) bool {
	i := task.Index(d.states, key)
	if i < 0 {
		return false
	}

	d.states = append(d.states[:i:i], d.states[i+1:]...)
	d.broadcast.publish(d.snapshotLocked())

	return true
}

func (d *Downloader) snapshotLocked() []task.State {
	snapshot := make([]task.State, len(d.states))
	copy(snapshot, d.states)

	return snapshot
}

// protect runs fn and turns a panic into an error.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return fn()
}

type noopMetrics struct{}

func (noopMetrics) RecordDownload(string, time.Duration) {}
func (noopMetrics) IncrementActiveDownloads()            {}
func (noopMetrics) DecrementActiveDownloads()            {}
