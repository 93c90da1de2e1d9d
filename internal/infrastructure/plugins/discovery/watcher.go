package discovery

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"fde.dev/ipc/internal/application/ports"
)

// DefaultDebounce coalesces bursts of events, such as a copy that creates a
// file and then chmods it.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reports changes to the plugin directory. It prefers fsnotify and
// polls every Interval when the directory cannot be watched.
type Watcher struct {
	Dir      string
	Interval time.Duration
	Debounce time.Duration
	OnChange func()
	Logger   ports.LoggingGateway
}

// Run blocks until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		if err = fsw.Add(w.Dir); err != nil {
			fsw.Close()
		}
	}
	if err != nil {
		w.Logger.Log(ports.LogLevelWarn, "Cannot watch plugin directory, falling back to polling", map[string]interface{}{
			"dir":      w.Dir,
			"interval": w.interval().String(),
			"error":    err.Error(),
		})
		return w.poll(ctx)
	}
	defer fsw.Close()

	w.Logger.Log(ports.LogLevelDebug, "Watching plugin directory", map[string]interface{}{"dir": w.Dir})
	return w.watch(ctx, fsw)
}

func (w *Watcher) watch(ctx context.Context, fsw *fsnotify.Watcher) error {
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	var (
		timer  *time.Timer
		settle <-chan time.Time
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

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Chmod|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
			settle = timer.C

		case <-settle:
			settle = nil
			w.OnChange()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.Logger.LogError(err, "Plugin directory watcher error", map[string]interface{}{"dir": w.Dir})
		}
	}
}

func (w *Watcher) poll(ctx context.Context) error {
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.OnChange()
		}
	}
}

func (w *Watcher) interval() time.Duration {
	if w.Interval <= 0 {
		return 5 * time.Second
	}
	return w.Interval
}
