package tail

import (
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watcher turns fsnotify write events on one file into wake-ups for the
// poll loop. Wake-ups coalesce; the ticker still drives polling when
// notifications are missed.
type watcher struct {
	fsw  *fsnotify.Watcher
	C    chan struct{}
	done chan struct{}
}

func newWatcher(path string, logger *zap.Logger) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &watcher{
		fsw:  fsw,
		C:    make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go w.loop(logger)
	return w, nil
}

func (w *watcher) loop(logger *zap.Logger) {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			select {
			case w.C <- struct{}{}:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("file watch error", zap.Error(err))
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
