package integrity

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// realtimeTrigger turns filesystem notifications on the watched paths into
// scan requests. Notifications are coalesced; the consumer only learns that
// something changed, never what.
type realtimeTrigger struct {
	watcher *fsnotify.Watcher
	ch      chan struct{}
	done    chan struct{}
	logger  *zap.SugaredLogger
}

func newRealtimeTrigger(paths []string, logger *zap.SugaredLogger) (*realtimeTrigger, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		dir := p
		if !info.IsDir() {
			dir = filepath.Dir(p)
		}
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		if err := w.Add(dir); err != nil {
			logger.Debugw("Cannot watch directory", "dir", dir, "error", err)
		}
	}

	rt := &realtimeTrigger{
		watcher: w,
		ch:      make(chan struct{}, 1),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go rt.loop()
	return rt, nil
}

func (rt *realtimeTrigger) loop() {
	defer close(rt.done)
	for {
		select {
		case ev, ok := <-rt.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
			select {
			case rt.ch <- struct{}{}:
			default:
			}
		case err, ok := <-rt.watcher.Errors:
			if !ok {
				return
			}
			rt.logger.Debugw("Filesystem watcher error", "error", err)
		}
	}
}

// C delivers one value per burst of filesystem activity
func (rt *realtimeTrigger) C() <-chan struct{} {
	return rt.ch
}

// Close stops the watcher and waits for the event loop to exit
func (rt *realtimeTrigger) Close() {
	_ = rt.watcher.Close()
	<-rt.done
}
