package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig configures Watch.
type WatchConfig struct {
	Folder      string
	InitialScan bool          // emit files already present before watching
	Debounce    time.Duration // wait for writes to settle before emitting
	Logger      *slog.Logger
}

// Watch emits accepted files in cfg.Folder as they are created or written.
// A file is emitted once no event has touched it for cfg.Debounce, and
// never again for the life of the watch. The returned channel is closed
// when ctx is done.
func (e *Extractor) Watch(ctx context.Context, cfg WatchConfig) (<-chan string, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = e.logger
	}
	if st, err := os.Stat(cfg.Folder); err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", cfg.Folder, err)
	} else if !st.IsDir() {
		return nil, fmt.Errorf("failed to watch %s: not a directory", cfg.Folder)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(cfg.Folder); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", cfg.Folder, err)
	}

	var initial []string
	if cfg.InitialScan {
		initial, err = e.Scan(cfg.Folder)
		if err != nil {
			_ = w.Close()
			return nil, err
		}
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer w.Close()

		emit := func(path string) bool {
			select {
			case out <- path:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// Each file is emitted at most once; later writes to it are ignored.
		emitted := make(map[string]bool, len(initial))
		for _, p := range initial {
			if !emit(p) {
				return
			}
			emitted[filepath.Clean(p)] = true
		}

		pending := make(map[string]time.Time)
		ticker := time.NewTicker(tickInterval(cfg.Debounce))
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 || !e.Accepts(ev.Name) {
					continue
				}
				if emitted[filepath.Clean(ev.Name)] {
					logger.Debug("ignoring change to processed file", "path", ev.Name)
					continue
				}
				pending[ev.Name] = time.Now()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", "folder", cfg.Folder, "error", err)
			case now := <-ticker.C:
				for _, p := range settled(pending, now, cfg.Debounce) {
					delete(pending, p)
					if _, err := os.Stat(p); err != nil {
						continue
					}
					if !emit(p) {
						return
					}
					emitted[filepath.Clean(p)] = true
				}
			}
		}
	}()

	logger.Info("watching folder", "folder", cfg.Folder, "debounce_ms", cfg.Debounce.Milliseconds())
	return out, nil
}

// settled returns pending paths quiet for at least debounce, in name order.
func settled(pending map[string]time.Time, now time.Time, debounce time.Duration) []string {
	var ready []string
	for p, last := range pending {
		if now.Sub(last) >= debounce {
			ready = append(ready, p)
		}
	}
	return sortByNumber(ready)
}

func tickInterval(debounce time.Duration) time.Duration {
	if debounce <= 0 {
		return 50 * time.Millisecond
	}
	if d := debounce / 4; d > 10*time.Millisecond {
		return d
	}
	return 10 * time.Millisecond
}
