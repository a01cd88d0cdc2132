package cleanup

import (
	"github.com/fsnotify/fsnotify"
)

// WatchDir starts a background drainer that calls Process promptly whenever
// dir changes, instead of waiting for the Orchestrator's next scheduled
// tick. A lock release or a worktree directory finally going away both fire
// this, shaving the worst-case delay on a retried removal down from a full
// poll interval to roughly instant.
func (q *Queue) WatchDir(dir string) (func(), error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case _, ok := <-fsw.Events:
				if !ok {
					return
				}
				q.Process(10)
			case _, ok := <-fsw.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()

	stop := func() {
		close(done)
		fsw.Close()
	}
	return stop, nil
}
