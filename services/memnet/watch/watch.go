// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch reloads a memory graph when its source file changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/memnet/services/memnet/codec"
	"github.com/AleutianAI/memnet/services/memnet/query"
)

// ErrAlreadyStarted is returned by Start on a running Reloader.
var ErrAlreadyStarted = errors.New("reloader already started")

// DefaultDebounce is the default quiet period before a reload.
const DefaultDebounce = 500 * time.Millisecond

// Result describes one reload attempt.
type Result struct {
	Path     string
	Nodes    int
	Duration time.Duration
	Err      error
}

// Option configures a Reloader.
type Option func(*Reloader)

// WithDebounce sets the quiet period. Default: DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(r *Reloader) {
		if d > 0 {
			r.debounce = d
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reloader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithOnReload registers a callback run after every reload attempt.
func WithOnReload(fn func(Result)) Option {
	return func(r *Reloader) { r.onReload = fn }
}

// Reloader keeps an engine in sync with a GML, JSON or YAML file.
//
// # Description
//
// The parent directory is watched rather than the file, so editors that
// save by rename are seen. Events for the file are batched using a
// debounce window; when the window passes quietly the file is parsed into
// a fresh graph which then replaces the engine's graph. A file that fails
// to parse leaves the current graph in place.
//
// # Thread Safety
//
// Safe for concurrent use. Reloads run on a single goroutine.
type Reloader struct {
	path     string
	format   codec.Format
	engine   *query.Engine
	debounce time.Duration
	logger   *slog.Logger
	onReload func(Result)

	watcher  *fsnotify.Watcher
	events   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	watching bool

	reloads  atomic.Int64
	failures atomic.Int64
}

// New creates a Reloader for path. Call Start to begin watching.
//
// Errors:
//
//	codec.ErrUnknownFormat - the extension is not .gml, .json, .yaml or .yml
//	fsnotify errors - the watcher could not be created
func New(path string, engine *query.Engine, opts ...Option) (*Reloader, error) {
	format, err := codec.FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	r := &Reloader{
		path:     abs,
		format:   format,
		engine:   engine,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		watcher:  w,
		events:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start begins watching. It does not load the file; call Reload first for
// an initial load.
func (r *Reloader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watching {
		return ErrAlreadyStarted
	}
	if err := r.watcher.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(r.path), err)
	}
	r.watching = true

	r.wg.Add(2)
	go r.processEvents(ctx)
	go r.debounceLoop(ctx)
	r.logger.Info("Watching memory source", "path", r.path, "debounce", r.debounce)
	return nil
}

// Stop halts watching and waits for the goroutines to exit.
func (r *Reloader) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.watcher.Close()
		r.wg.Wait()

		r.mu.Lock()
		r.watching = false
		r.mu.Unlock()
	})
}

// Reloads returns the number of successful and failed reloads so far.
func (r *Reloader) Reloads() (ok, failed int64) {
	return r.reloads.Load(), r.failures.Load()
}

// Reload parses the file into a fresh graph and swaps it into the engine.
func (r *Reloader) Reload(ctx context.Context) error {
	start := time.Now()
	res := Result{Path: r.path}
	res.Nodes, res.Err = r.load(ctx)
	res.Duration = time.Since(start)

	if res.Err != nil {
		r.failures.Add(1)
		r.logger.Warn("Reload failed; keeping current graph", "path", r.path, "error", res.Err)
	} else {
		r.reloads.Add(1)
		r.logger.Info("Reloaded memory source", "path", r.path, "nodes", res.Nodes, "duration", res.Duration)
	}
	if r.onReload != nil {
		r.onReload(res)
	}
	return res.Err
}

func (r *Reloader) load(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f, err := os.Open(r.path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	// Records append, so they are replayed into a scratch engine first.
	scratch := query.New(query.Config{}, query.WithLogger(r.logger))
	n, err := codec.LoadFile(scratch, f, r.format, r.logger)
	if err != nil {
		return n, err
	}
	r.engine.Replace(scratch.Graph())
	return n, nil
}

func (r *Reloader) processEvents(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			select {
			case r.events <- struct{}{}:
			default:
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("File watcher error", "error", err)
		}
	}
}

func (r *Reloader) debounceLoop(ctx context.Context) {
	defer r.wg.Done()
	var timer *time.Timer
	var timerC <-chan time.Time

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			stopTimer()
			return
		case <-r.done:
			stopTimer()
			return
		case <-r.events:
			if timer == nil {
				timer = time.NewTimer(r.debounce)
				timerC = timer.C
			} else {
				timer.Reset(r.debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			_ = r.Reload(ctx)
		}
	}
}
