// Package config loads and optionally hot-reloads the control plane's
// operational settings: concurrency limit, throttle window, cleanup
// timeout, and the namespace/kubeconfig the Kubernetes backend should use.
// Absence of a config file is not an error; compiled-in defaults apply,
// matching spec.md's stated defaults.
package config

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/archon-ai/mcp-controlplane/internal/logging"
)

var log = logging.Get("config")

// Settings holds the operator-tunable knobs. Defaults() fills
// MaxConcurrentServers, ThrottleWindow, CleanupTimeout and Namespace; the
// other fields stay empty unless set.
type Settings struct {
	MaxConcurrentServers int           `yaml:"max_concurrent_servers"`
	ThrottleWindow       time.Duration `yaml:"throttle_window"`
	CleanupTimeout       time.Duration `yaml:"cleanup_timeout"`
	Namespace            string        `yaml:"namespace"`
	Kubeconfig           string        `yaml:"kubeconfig"`
	KubeContext          string        `yaml:"kube_context"`
	SidecarURL           string        `yaml:"sidecar_url"`
}

// Defaults returns the compiled-in defaults from spec.md §4.3/§5.
func Defaults() Settings {
	return Settings{
		MaxConcurrentServers: 10,
		ThrottleWindow:       2 * time.Second,
		CleanupTimeout:       30 * time.Second,
		Namespace:            "default",
	}
}

// Load reads path (if non-empty and present) over the defaults. A missing
// file is not an error.
func Load(path string) (Settings, error) {
	s := Defaults()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, err
	}
	return s, nil
}

// Watcher holds a live Settings value, updated in place whenever path
// changes on disk, guarded by mu for concurrent readers.
type Watcher struct {
	mu       sync.RWMutex
	settings Settings
	path     string
	watcher  *fsnotify.Watcher
}

// NewWatcher loads path once and, if it exists, starts watching it for
// writes. Callers must call Close when done.
func NewWatcher(path string) (*Watcher, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{settings: s, path: path}
	if path == "" {
		return w, nil
	}
	if _, err := os.Stat(path); err != nil {
		return w, nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}
	w.watcher = fw
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s, err := Load(w.path)
			if err != nil {
				log.Warningf("reload %s: %v", w.path, err)
				continue
			}
			w.mu.Lock()
			w.settings = s
			w.mu.Unlock()
			log.Infof("reloaded config from %s", w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warningf("config watch error: %v", err)
		}
	}
}

// Get returns the current settings snapshot.
func (w *Watcher) Get() Settings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.settings
}

// Close stops the underlying filesystem watch, if any.
func (w *Watcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}
