package skills

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillrt/pkg/logger"
)

// DefaultDebounce is how long the watcher waits for changes to settle
const DefaultDebounce = 500 * time.Millisecond

// Watch calls onChange whenever a descriptor under dirs is created, written,
// removed or renamed. Bursts of events are coalesced into one call after the
// debounce delay. Watch blocks until ctx is done.
func Watch(ctx context.Context, dirs []string, debounce time.Duration, onChange func(ctx context.Context)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	defer watcher.Close()

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watched := 0
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if !entry.IsDir() {
				return nil
			}
			switch entry.Name() {
			case ".git", "node_modules":
				return filepath.SkipDir
			}
			logger.G(ctx).WithField("directory", path).Debug("adding directory to watcher")
			if err := watcher.Add(path); err != nil {
				return errors.Wrapf(err, "failed to watch %s", path)
			}
			watched++
			return nil
		})
		if err != nil {
			return err
		}
	}
	if watched == 0 {
		return errors.New("no skill directories to watch")
	}

	var (
		timer *time.Timer
		fire  = make(chan struct{}, 1)
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			if DetectShape(event.Name) == ShapeUnknown {
				if info, err := os.Stat(event.Name); err == nil && !info.IsDir() {
					continue
				}
			}
			logger.G(ctx).WithField("file", event.Name).
				WithField("operation", event.Op.String()).
				Debug("skill descriptor change detected")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			onChange(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.G(ctx).WithError(err).Error("error watching skill directories")
		}
	}
}
