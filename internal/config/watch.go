package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounce = 50 * time.Millisecond

// Watcher reloads a config file whenever it changes on disk. The parent
// directory is watched so editors that replace the file by rename still
// trigger a reload.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	updates chan Config
	errs    chan error
	closeCh chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewWatcher(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher: fw,
		path:    abs,
		updates: make(chan Config, 1),
		errs:    make(chan error, 1),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Updates delivers each successfully reloaded config. Only the latest one is
// kept if the reader falls behind.
func (w *Watcher) Updates() <-chan Config { return w.updates }

// Errors delivers reload and watch failures.
func (w *Watcher) Errors() <-chan error { return w.errs }

func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closeCh)
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	defer close(w.updates)
	defer close(w.errs)

	var fire <-chan time.Time
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			fire = time.After(debounce)
		case <-fire:
			fire = nil
			cfg, err := Load(w.path)
			if err != nil {
				replace(w.errs, err)
				continue
			}
			replace(w.updates, cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			replace(w.errs, err)
		case <-w.closeCh:
			return
		}
	}
}

// replace sends v on a one-slot channel, dropping a value nobody read yet.
func replace[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
