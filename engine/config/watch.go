package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Watcher hot-reloads the tunables section of a yaml file and hands each
// valid snapshot to the callback. The engine applies snapshots atomically;
// changes take effect on the next tick.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	log     *slog.Logger
	done    chan struct{}
}

// Watch begins watching path for tunables changes. The callback runs on the
// watcher goroutine and must be fast.
func Watch(path string, log *slog.Logger, onChange func(Tunables)) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("tunables watcher: %w", err)
	}
	// Watch the directory: editors replace files rather than write in place.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("tunables watcher: %w", err)
	}
	w := &Watcher{path: path, watcher: fw, log: log, done: make(chan struct{})}
	go w.loop(onChange)
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) loop(onChange func(Tunables)) {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			tun, err := readTunables(w.path)
			if err != nil {
				w.log.Warn("tunables reload skipped", "path", w.path, "error", err)
				continue
			}
			w.log.Info("tunables reloaded", "path", w.path)
			onChange(tun)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("tunables watcher error", "error", err)
		}
	}
}

func readTunables(path string) (Tunables, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Tunables{}, err
	}
	var doc struct {
		Tunables Tunables `yaml:"tunables"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return Tunables{}, err
	}
	t := doc.Tunables
	if t.FuelCriticalGrams > 0 && t.FuelWarningGrams > 0 && t.FuelCriticalGrams >= t.FuelWarningGrams {
		return Tunables{}, fmt.Errorf("fuel_critical_grams %.1f must be below fuel_warning_grams %.1f", t.FuelCriticalGrams, t.FuelWarningGrams)
	}
	return t, nil
}
