package config

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HotReloadManager keeps the live configuration in sync with its file.
// When the watched file changes, the file is re-parsed, validated and
// swapped in; a config that fails validation is discarded and the
// previous one stays active.
type HotReloadManager struct {
	mu sync.RWMutex

	config     *Config
	configPath string

	previousConfig *Config
	history        []ConfigSnapshot
	maxHistorySize int

	watcher *FileWatcher

	changeCallbacks []ChangeCallback
	reloadCallbacks []ReloadCallback

	running bool
	logger  *zap.Logger
}

// ChangeCallback is invoked once per changed field on reload.
type ChangeCallback func(change ConfigChange)

// ReloadCallback is invoked once per successful reload.
type ReloadCallback func(oldConfig, newConfig *Config)

// ConfigChange describes one changed field.
type ConfigChange struct {
	Path      string    `json:"path"`
	OldValue  any       `json:"old_value"`
	NewValue  any       `json:"new_value"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// ConfigSnapshot is one entry in the reload history.
type ConfigSnapshot struct {
	Version   int       `json:"version"`
	Config    *Config   `json:"-"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// HotReloadOption configures the HotReloadManager.
type HotReloadOption func(*HotReloadManager)

// WithHotReloadLogger sets the logger.
func WithHotReloadLogger(logger *zap.Logger) HotReloadOption {
	return func(m *HotReloadManager) {
		m.logger = logger
	}
}

// WithConfigPath sets the file to watch and reload from.
func WithConfigPath(path string) HotReloadOption {
	return func(m *HotReloadManager) {
		m.configPath = path
	}
}

// WithMaxHistorySize caps the reload history length.
func WithMaxHistorySize(size int) HotReloadOption {
	return func(m *HotReloadManager) {
		if size > 0 {
			m.maxHistorySize = size
		}
	}
}

// NewHotReloadManager creates a manager seeded with the given config.
func NewHotReloadManager(cfg *Config, opts ...HotReloadOption) *HotReloadManager {
	m := &HotReloadManager{
		config:         cfg,
		maxHistorySize: 10,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.pushHistory(cfg, "initial")
	return m
}

// Start begins watching the config file. Without a config path it is a
// no-op; manual ReloadFromFile calls still work.
func (m *HotReloadManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("hot reload manager already running")
	}
	if m.configPath == "" {
		m.logger.Info("no config path set, hot reload disabled")
		m.running = true
		return nil
	}

	watcher, err := NewFileWatcher([]string{m.configPath}, WithWatcherLogger(m.logger))
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	watcher.OnChange(m.handleFileChange)
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("start file watcher: %w", err)
	}

	m.watcher = watcher
	m.running = true

	m.logger.Info("hot reload manager started", zap.String("config_path", m.configPath))
	return nil
}

// Stop stops watching.
func (m *HotReloadManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	if m.watcher != nil {
		return m.watcher.Stop()
	}
	return nil
}

func (m *HotReloadManager) handleFileChange(event FileEvent) {
	if event.Op != FileOpWrite && event.Op != FileOpCreate {
		return
	}
	if err := m.ReloadFromFile(); err != nil {
		m.logger.Error("config reload failed, keeping previous config", zap.Error(err))
	}
}

// ReloadFromFile re-parses the config file and applies it.
func (m *HotReloadManager) ReloadFromFile() error {
	m.mu.RLock()
	path := m.configPath
	m.mu.RUnlock()

	if path == "" {
		return fmt.Errorf("no config path set")
	}

	newConfig, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	return m.Apply(newConfig, "file")
}

// Apply validates newConfig and makes it current, notifying callbacks
// with the field-level diff.
func (m *HotReloadManager) Apply(newConfig *Config, source string) error {
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("rejected config: %w", err)
	}

	m.mu.Lock()
	oldConfig := m.config
	changes := detectChanges(oldConfig, newConfig)
	if len(changes) == 0 {
		m.mu.Unlock()
		return nil
	}
	for i := range changes {
		changes[i].Source = source
	}
	m.previousConfig = oldConfig
	m.config = newConfig
	m.pushHistory(newConfig, source)
	changeCallbacks := make([]ChangeCallback, len(m.changeCallbacks))
	copy(changeCallbacks, m.changeCallbacks)
	reloadCallbacks := make([]ReloadCallback, len(m.reloadCallbacks))
	copy(reloadCallbacks, m.reloadCallbacks)
	m.mu.Unlock()

	for _, change := range changes {
		m.logger.Info("config field changed",
			zap.String("path", change.Path),
			zap.Any("old", change.OldValue),
			zap.Any("new", change.NewValue),
			zap.String("source", source),
		)
		for _, cb := range changeCallbacks {
			cb(change)
		}
	}
	for _, cb := range reloadCallbacks {
		cb(oldConfig, newConfig)
	}
	return nil
}

// Rollback restores the previously applied config.
func (m *HotReloadManager) Rollback() error {
	m.mu.RLock()
	prev := m.previousConfig
	m.mu.RUnlock()

	if prev == nil {
		return fmt.Errorf("no previous config to roll back to")
	}
	return m.Apply(prev, "rollback")
}

// OnChange registers a per-field change callback.
func (m *HotReloadManager) OnChange(callback ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeCallbacks = append(m.changeCallbacks, callback)
}

// OnReload registers a per-reload callback.
func (m *HotReloadManager) OnReload(callback ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadCallbacks = append(m.reloadCallbacks, callback)
}

// GetConfig returns the current config.
func (m *HotReloadManager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetConfigHistory returns the reload history, oldest first.
func (m *HotReloadManager) GetConfigHistory() []ConfigSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ConfigSnapshot, len(m.history))
	copy(out, m.history)
	return out
}

// pushHistory appends a snapshot, trimming the oldest entries past the
// cap. Callers hold the lock except during construction.
func (m *HotReloadManager) pushHistory(cfg *Config, source string) {
	version := 1
	if n := len(m.history); n > 0 {
		version = m.history[n-1].Version + 1
	}
	m.history = append(m.history, ConfigSnapshot{
		Version:   version,
		Config:    cfg,
		Source:    source,
		Timestamp: time.Now().UTC(),
	})
	if len(m.history) > m.maxHistorySize {
		m.history = m.history[len(m.history)-m.maxHistorySize:]
	}
}

// detectChanges walks both configs and records every leaf field whose
// value differs.
func detectChanges(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange
	compareStructs("", reflect.ValueOf(*oldConfig), reflect.ValueOf(*newConfig), &changes)
	return changes
}

func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		path := field.Name
		if prefix != "" {
			path = prefix + "." + field.Name
		}

		of, nf := oldVal.Field(i), newVal.Field(i)
		if of.Kind() == reflect.Struct && of.Type() != reflect.TypeOf(time.Time{}) {
			compareStructs(path, of, nf, changes)
			continue
		}
		if !reflect.DeepEqual(of.Interface(), nf.Interface()) {
			*changes = append(*changes, ConfigChange{
				Path:      path,
				OldValue:  of.Interface(),
				NewValue:  nf.Interface(),
				Timestamp: time.Now().UTC(),
			})
		}
	}
}
