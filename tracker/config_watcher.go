package tracker

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/caomw/RGBD-to-Mesh/logging"
)

// WatchConfigFile reloads the json config at path into the tracker whenever the file
// is written, until ctx is done or the returned stop function is called. A file that
// fails to load or validate is logged and the current config is kept.
func (t *MeshTracker) WatchConfigFile(ctx context.Context, path string) (func(), error) {
	cleanPath := filepath.Clean(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create config watcher")
	}
	// editors replace files on save, so watch the directory
	if err := watcher.Add(filepath.Dir(cleanPath)); err != nil {
		//nolint:errcheck
		watcher.Close()
		return nil, errors.Wrapf(err, "cannot watch %q", cleanPath)
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	utils.PanicCapturingGo(func() {
		defer wg.Done()
		watchConfigLoop(ctx, t, watcher, cleanPath, t.logger.Sublogger("config"))
	})
	return func() {
		cancel()
		wg.Wait()
	}, nil
}

func watchConfigLoop(ctx context.Context, t *MeshTracker, watcher *fsnotify.Watcher, path string, logger logging.Logger) {
	defer func() {
		if err := watcher.Close(); err != nil {
			logger.Warnw("closing config watcher", "error", err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warnw("config watcher error", "error", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			cfg, err := LoadConfigFile(path)
			if err != nil {
				logger.Warnw("keeping current config", "path", path, "error", err)
				continue
			}
			if err := t.SetConfig(*cfg); err != nil {
				logger.Warnw("keeping current config", "path", path, "error", err)
				continue
			}
			logger.Infow("config reloaded", "path", path)
		}
	}
}
