package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/consul"
	"github.com/knadh/koanf/providers/etcd"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/mapstructure"
)

// BootstrapBackend selects where the bootstrap registration file is read
// from. This is the explicit registration step that REDESIGN FLAGS calls for
// in place of decorator-/annotation-based wiring.
type BootstrapBackend string

const (
	BootstrapFile    BootstrapBackend = "file"
	BootstrapConsul  BootstrapBackend = "consul"
	BootstrapEtcd    BootstrapBackend = "etcd"
)

// RoleSpec registers one sub-agent role and the factory key used to build it.
type RoleSpec struct {
	Name       string `koanf:"name"`
	FactoryKey string `koanf:"factory"`
}

// QueueSpec registers one bus queue with its visibility timeout.
type QueueSpec struct {
	Name                     string `koanf:"name"`
	VisibilityTimeoutSeconds int    `koanf:"visibility_timeout_s"`
	DeadLetterThreshold      int    `koanf:"dead_letter_threshold"`
}

// GateSpec registers one HITL risk threshold.
type GateSpec struct {
	RiskCategory string `koanf:"risk_category"`
	Required     bool   `koanf:"required"`
}

// Bootstrap is the explicit registration struct: agent roles, queues,
// budgets, and HITL gates, loaded from a single config source at startup.
type Bootstrap struct {
	Roles   []RoleSpec  `koanf:"roles"`
	Queues  []QueueSpec `koanf:"queues"`
	Gates   []GateSpec  `koanf:"gates"`
	Budgets map[string]float64 `koanf:"budgets"`
}

// BootstrapLoader loads and optionally hot-reloads a Bootstrap.
type BootstrapLoader struct {
	k        *koanf.Koanf
	backend  BootstrapBackend
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Bootstrap)
}

// NewBootstrapLoader constructs a loader for the given backend/path. path is
// a filesystem path for BootstrapFile, the key to read for BootstrapConsul,
// or a single endpoint address for BootstrapEtcd.
func NewBootstrapLoader(backend BootstrapBackend, path string) *BootstrapLoader {
	return &BootstrapLoader{
		k:       koanf.New("."),
		backend: backend,
		path:    path,
	}
}

// Load reads the bootstrap configuration once.
func (l *BootstrapLoader) Load() (*Bootstrap, error) {
	switch l.backend {
	case BootstrapFile:
		if err := l.k.Load(file.Provider(l.path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("bootstrap: load file %s: %w", l.path, err)
		}
	case BootstrapConsul:
		provider := consul.Provider(consul.Config{Key: l.path})
		if err := l.k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("bootstrap: load consul key %s: %w", l.path, err)
		}
	case BootstrapEtcd:
		provider := etcd.Provider(etcd.Config{Endpoints: []string{l.path}})
		if err := l.k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("bootstrap: load etcd endpoint %s: %w", l.path, err)
		}
	default:
		return nil, fmt.Errorf("bootstrap: unknown backend %q", l.backend)
	}

	return l.unmarshal()
}

// LoadDefaults seeds the loader with in-memory defaults (used by tests and
// as a fallback when no bootstrap file is configured) via koanf's confmap
// provider, the same way the teacher's config layers a base map before
// overlaying file/remote sources.
func (l *BootstrapLoader) LoadDefaults(defaults map[string]interface{}) error {
	if err := l.k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return fmt.Errorf("bootstrap: load defaults: %w", err)
	}
	return nil
}

func (l *BootstrapLoader) unmarshal() (*Bootstrap, error) {
	var b Bootstrap
	decoderConfig := koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			TagName:          "koanf",
		},
	}
	if err := l.k.UnmarshalWithConf("", &b, decoderConfig); err != nil {
		return nil, fmt.Errorf("bootstrap: unmarshal: %w", err)
	}
	return &b, nil
}

// Watch hot-reloads the bootstrap file on change, invoking onChange with the
// newly parsed Bootstrap. Only supported for BootstrapFile. Matches the
// teacher's Loader.Watch/OnChange shape.
func (l *BootstrapLoader) Watch(onChange func(*Bootstrap)) error {
	if l.backend != BootstrapFile {
		return fmt.Errorf("bootstrap: watch only supported for file backend")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("bootstrap: new watcher: %w", err)
	}
	if err := watcher.Add(l.path); err != nil {
		watcher.Close()
		return fmt.Errorf("bootstrap: watch %s: %w", l.path, err)
	}

	l.watcher = watcher
	l.onChange = onChange

	go func() {
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				debounce.Reset(100 * time.Millisecond)
			case <-debounce.C:
				b, err := l.Load()
				if err != nil {
					slog.Warn("bootstrap: reload failed", "error", err)
					continue
				}
				if l.onChange != nil {
					l.onChange(b)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("bootstrap: watcher error", "error", err)
			}
		}
	}()

	return nil
}

// Close stops the file watcher, if any.
func (l *BootstrapLoader) Close() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
