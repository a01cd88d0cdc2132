package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads autocoder.yaml whenever it changes on disk, so a running
// Orchestrator picks up edited verification commands without a restart.
type Watcher struct {
	fs *fsnotify.Watcher
	on func(*ProjectConfig)
}

// WatchProjectConfig watches dir/autocoder.yaml and invokes onChange with
// the freshly parsed config every time the file is written or replaced
// (editors commonly rename-over-write, which fsnotify reports as a Create
// event on the watched directory rather than a Write on the file itself, so
// the whole directory is watched rather than just the file).
func WatchProjectConfig(dir string, onChange func(*ProjectConfig)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{fs: fsw, on: onChange}
	target := filepath.Join(dir, "autocoder.yaml")
	go w.loop(dir, target)
	return w, nil
}

func (w *Watcher) loop(dir, target string) {
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadProjectConfig(dir)
			if err != nil {
				continue
			}
			w.on(cfg)
		case _, ok := <-w.fs.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
