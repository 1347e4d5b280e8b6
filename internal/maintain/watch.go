package maintain

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watch nudges the maintenance loop when chunk files change under dir, e.g.
// when another tool drops files into the storage tree. fsnotify is not
// recursive, so entity directories are watched individually and new ones are
// added as they appear.
func (s *Scheduler) watch(ctx context.Context, dir string) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				w.Add(filepath.Join(dir, e.Name()))
			}
		}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op.Has(fsnotify.Create) {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						w.Add(ev.Name)
						continue
					}
				}
				// Temp files from our own atomic writes churn constantly.
				if strings.HasSuffix(ev.Name, ".tmp") {
					continue
				}
				select {
				case s.nudge <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Debug("storage watch error", zap.Error(err))
			}
		}
	}()

	return func() { w.Close() }, nil
}
