package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Load reads, decodes, validates, and env-overrides a config file. The
// encoding is chosen by extension: .toml, .yaml/.yml, or .json.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", filepath.Base(path), err)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Watcher watches files and invokes a callback when they change.
// Editors replace files rather than write in place, so rename and
// create events count as changes and the watch is re-armed afterward.
type Watcher struct {
	fsw      *fsnotify.Watcher
	onChange func(path string)
	debounce time.Duration

	mu    sync.Mutex
	paths map[string]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a file watcher. onChange runs on the watcher
// goroutine after a short debounce, once per settled change.
func NewWatcher(onChange func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		fsw:      fsw,
		onChange: onChange,
		debounce: 250 * time.Millisecond,
		paths:    make(map[string]struct{}),
	}, nil
}

// Add watches a single file, by watching its directory.
func (w *Watcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.paths[abs] = struct{}{}
	w.mu.Unlock()
	return w.fsw.Add(filepath.Dir(abs))
}

// Start begins dispatching change callbacks until Stop.
func (w *Watcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop stops the watcher and waits for the dispatch goroutine.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var (
		timer   *time.Timer
		pending string
	)
	fire := make(chan string, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			w.mu.Lock()
			_, watched := w.paths[abs]
			w.mu.Unlock()
			if !watched {
				continue
			}
			pending = abs
			if timer != nil {
				timer.Stop()
			}
			p := pending
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- p:
				default:
				}
			})
		case p := <-fire:
			w.onChange(p)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}
