package store

import (
	"context"

	"github.com/fsnotify/fsnotify"
)

// WatchContext tails the KindContext record for taskFingerprint using
// fsnotify, pushing a notification on the returned channel whenever the file
// is rewritten. This lets a front end follow <task>_context.json live
// instead of polling Store.Read on a timer. The channel is closed when ctx
// is done or the watcher fails to start.
func (s *FileStore) WatchContext(ctx context.Context, taskFingerprint string) (<-chan struct{}, error) {
	path, err := s.path(taskFingerprint, KindContext, "")
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the containing directory rather than the file itself: the
	// write-temp+rename in Write replaces the inode, which some platforms
	// report as the watched file disappearing rather than being modified.
	if err := watcher.Add(s.BaseDir); err != nil {
		watcher.Close()
		return nil, err
	}

	out := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.Logger.Warn("store: watch error", "path", path, "error", err)
			}
		}
	}()

	return out, nil
}
