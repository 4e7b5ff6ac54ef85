package watch

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSNotify watches a directory tree recursively. fsnotify does not report
// close-after-write, so a file is considered settled once it has been quiet
// for the settle period: it is reported as CLOSE_WRITE if it was written to
// and MOVED_TO if it only appeared. Raw events are forwarded as they arrive.
type FSNotify struct {
	w      *fsnotify.Watcher
	root   string
	settle time.Duration
	logger *slog.Logger

	out     chan Event
	fired   chan firing
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	pending map[string]*pendingFile
	gen     uint64
}

type pendingFile struct {
	wrote bool
	gen   uint64
	timer *time.Timer
}

// firing identifies one settle timer; a stale firing whose generation no
// longer matches the pending entry is ignored.
type firing struct {
	path string
	gen  uint64
}

func NewFSNotify(root string, settle time.Duration, logger *slog.Logger) (*FSNotify, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	s := &FSNotify{
		w:       w,
		root:    root,
		settle:  settle,
		logger:  logger,
		out:     make(chan Event, 256),
		fired:   make(chan firing),
		done:    make(chan struct{}),
		pending: make(map[string]*pendingFile),
	}

	if err := s.addTree(root, false); err != nil {
		w.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.loop()
	return s, nil
}

func (s *FSNotify) Events() <-chan Event {
	return s.out
}

func (s *FSNotify) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.w.Close()
		s.wg.Wait()
	})
	return err
}

func (s *FSNotify) loop() {
	defer s.wg.Done()
	defer close(s.out)
	defer func() {
		for _, p := range s.pending {
			p.timer.Stop()
		}
	}()

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.w.Events:
			if !ok {
				return
			}
			s.handle(ev)
		case err, ok := <-s.w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watcher error", "root", s.root, "error", err)
		case f := <-s.fired:
			p, ok := s.pending[f.path]
			if !ok || p.gen != f.gen {
				continue
			}
			delete(s.pending, f.path)
			op := OpMovedTo
			if p.wrote {
				op = OpCloseWrite
			}
			s.emit(op, f.path)
		}
	}
}

func (s *FSNotify) handle(ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create):
		s.emit(OpCreate, ev.Name)
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if err := s.addTree(ev.Name, true); err != nil {
				s.logger.Warn("failed to watch new directory", "dir", ev.Name, "error", err)
			}
			return
		}
		s.schedule(ev.Name, false)
	case ev.Has(fsnotify.Write):
		s.emit(OpWrite, ev.Name)
		s.schedule(ev.Name, true)
	case ev.Has(fsnotify.Remove):
		s.cancel(ev.Name)
		s.emit(OpRemove, ev.Name)
	case ev.Has(fsnotify.Rename):
		s.cancel(ev.Name)
		s.emit(OpRename, ev.Name)
	case ev.Has(fsnotify.Chmod):
		s.emit(OpChmod, ev.Name)
	}
}

// addTree watches dir and every directory below it. Files already present
// in a directory that appeared after startup are scheduled as moved in,
// since their own events happened before the watch existed.
func (s *FSNotify) addTree(dir string, appeared bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := s.w.Add(path); err != nil {
				return fmt.Errorf("watching %s: %w", path, err)
			}
			return nil
		}
		if appeared && d.Type().IsRegular() {
			s.schedule(path, false)
		}
		return nil
	})
}

func (s *FSNotify) schedule(path string, wrote bool) {
	p, ok := s.pending[path]
	if !ok {
		p = &pendingFile{}
		s.pending[path] = p
	} else {
		p.timer.Stop()
	}
	s.gen++
	f := firing{path: path, gen: s.gen}
	p.gen = f.gen
	p.wrote = p.wrote || wrote
	p.timer = time.AfterFunc(s.settle, func() {
		select {
		case s.fired <- f:
		case <-s.done:
		}
	})
}

func (s *FSNotify) cancel(path string) {
	if p, ok := s.pending[path]; ok {
		p.timer.Stop()
		delete(s.pending, path)
	}
}

func (s *FSNotify) emit(op Op, path string) {
	select {
	case s.out <- Event{Op: op, Dir: filepath.Dir(path), Name: filepath.Base(path)}:
	case <-s.done:
	}
}
