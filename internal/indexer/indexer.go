// Package indexer turns file changes into published Snapshots. Each path
// has at most one live job; a newer change cancels the older one, and a
// canceled job never publishes.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jward/cppmodel/internal/parser"
	"github.com/jward/cppmodel/internal/snapshot"
)

// ErrClosed is returned for changes submitted after Close.
var ErrClosed = errors.New("indexer: closed")

// errSuperseded marks a job that lost to a newer change for its path.
var errSuperseded = errors.New("indexer: superseded")

// Change is one file event. A nil Content is read from disk; a zero
// ModTime is taken from the file system.
type Change struct {
	Path    string
	Content []byte
	ModTime time.Time
	Remove  bool

	// reparse forces a parse even when the content is unchanged. It is set
	// for files whose includes a change may have moved and never cascades.
	reparse bool
}

// Indexer parses changed files on a bounded worker pool and publishes the
// results copy-on-write.
type Indexer struct {
	parser       parser.Parser
	includePaths []string
	macros       map[string]string
	workers      int
	logger       *slog.Logger
	dependents   func(path string) []string
	progress     func(path string)

	current   atomic.Pointer[snapshot.Snapshot]
	publishMu sync.Mutex
	// waiting maps the base name of an unresolved include to the files
	// that spell it; waitingOn is its inverse. Both are guarded by
	// publishMu.
	waiting   map[string]map[string]bool
	waitingOn map[string][]string

	mu     sync.Mutex
	cond   *sync.Cond
	seq    uint64
	jobs   map[string]*job
	queue  []*job
	active int
	closed bool
	wg     sync.WaitGroup
}

type job struct {
	change Change
	seq    uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithIncludePaths sets the directories searched for angled includes.
func WithIncludePaths(paths ...string) Option {
	return func(ix *Indexer) { ix.includePaths = append([]string(nil), paths...) }
}

// WithMacros sets the macros predefined for every parse.
func WithMacros(macros map[string]string) Option {
	return func(ix *Indexer) {
		ix.macros = make(map[string]string, len(macros))
		for k, v := range macros {
			ix.macros[k] = v
		}
	}
}

// WithWorkers bounds the number of concurrent parses. Values below one
// use the number of CPUs.
func WithWorkers(n int) Option {
	return func(ix *Indexer) { ix.workers = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) {
		if l != nil {
			ix.logger = l
		}
	}
}

// WithDependents enables reparsing the includers of a changed header. fn
// returns the files that transitively include path. With it set, removing
// a file reparses its includers and adding one reparses every file whose
// unresolved include it satisfies.
func WithDependents(fn func(path string) []string) Option {
	return func(ix *Indexer) { ix.dependents = fn }
}

// WithProgress registers a callback invoked after each file of IndexFiles.
func WithProgress(fn func(path string)) Option {
	return func(ix *Indexer) { ix.progress = fn }
}

// New starts an Indexer publishing on top of an empty Snapshot.
func New(p parser.Parser, opts ...Option) *Indexer {
	ix := &Indexer{
		parser:    p,
		logger:    slog.New(slog.DiscardHandler),
		jobs:      make(map[string]*job),
		waiting:   make(map[string]map[string]bool),
		waitingOn: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.workers < 1 {
		ix.workers = runtime.NumCPU()
	}
	ix.cond = sync.NewCond(&ix.mu)
	ix.current.Store(snapshot.Empty())

	for range ix.workers {
		ix.wg.Add(1)
		go ix.work()
	}
	return ix
}

// Snapshot returns the most recently published Snapshot.
func (ix *Indexer) Snapshot() *snapshot.Snapshot {
	return ix.current.Load()
}

// Submit queues a change for background processing. A pending or running
// job for the same path is canceled.
func (ix *Indexer) Submit(c Change) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return ErrClosed
	}
	j := ix.register(c)
	ix.queue = append(ix.queue, j)
	ix.cond.Broadcast()
	return nil
}

// Remove queues the removal of path from the Snapshot.
func (ix *Indexer) Remove(path string) error {
	return ix.Submit(Change{Path: path, Remove: true})
}

// Apply processes a change on the calling goroutine and returns once it
// is published. It supersedes any queued job for the same path.
func (ix *Indexer) Apply(ctx context.Context, c Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return ErrClosed
	}
	j := ix.register(c)
	ix.mu.Unlock()

	stop := context.AfterFunc(ctx, j.cancel)
	defer stop()
	err := ix.run(j)
	ix.finish(j)
	if errors.Is(err, errSuperseded) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}
	return err
}

// IndexFiles applies every path with at most the configured number of
// parses in flight. Errors on individual files do not stop the others.
func (ix *Indexer) IndexFiles(ctx context.Context, paths []string) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(ix.workers)
	for _, path := range paths {
		g.Go(func() error {
			if err := ix.Apply(ctx, Change{Path: path}); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("index %s: %w", path, err))
				mu.Unlock()
			}
			if ix.progress != nil {
				ix.progress(path)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("indexing had %d error(s): %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Flush blocks until no job is queued or running.
func (ix *Indexer) Flush() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for ix.active > 0 {
		ix.cond.Wait()
	}
}

// Close cancels pending work and stops the workers.
func (ix *Indexer) Close() error {
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return nil
	}
	ix.closed = true
	for _, j := range ix.jobs {
		j.cancel()
	}
	ix.cond.Broadcast()
	ix.mu.Unlock()
	ix.wg.Wait()
	return nil
}

// register makes c the live job for its path. Caller holds mu.
func (ix *Indexer) register(c Change) *job {
	if prev, ok := ix.jobs[c.Path]; ok {
		prev.cancel()
		ix.logger.Debug("indexer.supersede", "path", c.Path, "seq", prev.seq)
	}
	ix.seq++
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{change: c, seq: ix.seq, ctx: ctx, cancel: cancel}
	ix.jobs[c.Path] = j
	ix.active++
	return j
}

// finish retires j. Caller must not hold mu.
func (ix *Indexer) finish(j *job) {
	j.cancel()
	ix.mu.Lock()
	if ix.jobs[j.change.Path] == j {
		delete(ix.jobs, j.change.Path)
	}
	ix.active--
	ix.cond.Broadcast()
	ix.mu.Unlock()
}

func (ix *Indexer) work() {
	defer ix.wg.Done()
	for {
		ix.mu.Lock()
		for len(ix.queue) == 0 && !ix.closed {
			ix.cond.Wait()
		}
		if ix.closed {
			// Drain so Flush callers are released.
			for _, j := range ix.queue {
				j.cancel()
				ix.active--
			}
			ix.queue = nil
			ix.cond.Broadcast()
			ix.mu.Unlock()
			return
		}
		j := ix.queue[0]
		ix.queue = ix.queue[1:]
		ix.mu.Unlock()

		if err := ix.run(j); err != nil && !errors.Is(err, errSuperseded) {
			ix.logger.Warn("indexer.error", "path", j.change.Path, "err", err)
		}
		ix.finish(j)
	}
}

// run executes one job. Cancellation is checked between reading, parsing,
// binding and publishing.
func (ix *Indexer) run(j *job) error {
	c := j.change
	if err := ix.check(j); err != nil {
		return err
	}
	if c.Remove {
		var includers []string
		if ix.dependents != nil {
			includers = ix.dependents(c.Path)
		}
		if err := ix.publish(j, func(s *snapshot.Snapshot) *snapshot.Snapshot {
			ix.track(c.Path, nil)
			return s.WithoutDocument(c.Path)
		}); err != nil {
			return err
		}
		ix.scheduleReparse(c.Path, includers)
		return nil
	}

	content, modTime, err := ix.read(c)
	if err != nil {
		return err
	}
	prev, hadPrev := ix.Snapshot().Document(c.Path)
	if hadPrev && !c.reparse && prev.Revision == snapshot.Revision(content) && prev.ModTime.Equal(modTime) {
		ix.logger.Debug("indexer.unchanged", "path", c.Path)
		return nil
	}
	if err := ix.check(j); err != nil {
		return err
	}

	start := time.Now()
	res, err := ix.parser.Parse(j.ctx, parser.Request{
		Path:         c.Path,
		Content:      content,
		IncludePaths: ix.includePaths,
		Macros:       ix.macros,
	})
	if err != nil {
		if j.ctx.Err() != nil {
			return errSuperseded
		}
		return fmt.Errorf("parse: %w", err)
	}
	if err := ix.check(j); err != nil {
		return err
	}

	doc := snapshot.NewDocument(c.Path, content, modTime, res)
	if err := ix.publish(j, func(s *snapshot.Snapshot) *snapshot.Snapshot {
		ix.track(c.Path, doc.Includes)
		return s.WithDocument(c.Path, doc)
	}); err != nil {
		return err
	}
	ix.logger.Debug("indexer.parsed", "path", c.Path,
		"diagnostics", len(doc.Diagnostics), "elapsed", time.Since(start))

	if c.reparse || ix.dependents == nil {
		return nil
	}
	switch {
	case !hadPrev:
		ix.scheduleReparse(c.Path, ix.waitingFor(c.Path))
	case prev.Revision != doc.Revision && parser.IsHeader(c.Path):
		ix.scheduleReparse(c.Path, ix.dependents(c.Path))
	}
	return nil
}

func (ix *Indexer) check(j *job) error {
	if j.ctx.Err() != nil {
		return errSuperseded
	}
	return nil
}

func (ix *Indexer) read(c Change) ([]byte, time.Time, error) {
	content, modTime := c.Content, c.ModTime
	if content == nil {
		data, err := os.ReadFile(c.Path)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("read file: %w", err)
		}
		content = data
	}
	if modTime.IsZero() {
		if info, err := os.Stat(c.Path); err == nil {
			modTime = info.ModTime()
		}
	}
	return content, modTime, nil
}

// publish swaps in the Snapshot produced by fn unless j was superseded.
// The check and the swap happen under one lock so a newer job for the same
// path always publishes last.
func (ix *Indexer) publish(j *job, fn func(*snapshot.Snapshot) *snapshot.Snapshot) error {
	ix.publishMu.Lock()
	defer ix.publishMu.Unlock()

	ix.mu.Lock()
	live := ix.jobs[j.change.Path] == j && j.ctx.Err() == nil
	ix.mu.Unlock()
	if !live {
		return errSuperseded
	}
	next := fn(ix.current.Load())
	ix.current.Store(next)
	ix.logger.Info("indexer.publish", "path", j.change.Path, "generation", next.Generation())
	return nil
}

// track records the unresolved includes of path, replacing what an
// earlier publish recorded. Caller holds publishMu.
func (ix *Indexer) track(path string, includes []parser.Include) {
	for _, base := range ix.waitingOn[path] {
		delete(ix.waiting[base], path)
		if len(ix.waiting[base]) == 0 {
			delete(ix.waiting, base)
		}
	}
	delete(ix.waitingOn, path)
	for _, inc := range includes {
		if inc.Resolved != "" {
			continue
		}
		base := filepath.Base(inc.Spelling)
		if ix.waiting[base] == nil {
			ix.waiting[base] = make(map[string]bool)
		}
		ix.waiting[base][path] = true
		ix.waitingOn[path] = append(ix.waitingOn[path], base)
	}
}

// waitingFor returns the files with an unresolved include that path
// satisfies, sorted.
func (ix *Indexer) waitingFor(path string) []string {
	ix.publishMu.Lock()
	defer ix.publishMu.Unlock()

	snap := ix.current.Load()
	var out []string
	for includer := range ix.waiting[filepath.Base(path)] {
		doc, ok := snap.Document(includer)
		if !ok {
			continue
		}
		if slices.ContainsFunc(doc.Includes, func(inc parser.Include) bool {
			return inc.Resolved == "" && inc.Matches(path)
		}) {
			out = append(out, includer)
		}
	}
	sort.Strings(out)
	return out
}

// scheduleReparse queues a reparse of paths, the files whose includes a
// change to cause may have moved.
func (ix *Indexer) scheduleReparse(cause string, paths []string) {
	snap := ix.Snapshot()
	var n int
	for _, path := range paths {
		if path == cause {
			continue
		}
		doc, ok := snap.Document(path)
		if !ok {
			continue
		}
		err := ix.Submit(Change{Path: path, Content: doc.Source, ModTime: doc.ModTime, reparse: true})
		if err != nil {
			return
		}
		n++
	}
	if n > 0 {
		ix.logger.Info("indexer.dependents", "path", cause, "count", n)
	}
}
