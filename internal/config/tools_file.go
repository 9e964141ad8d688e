package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/threadwise/internal/fault"
	"github.com/haasonsaas/threadwise/internal/tools/builtin"
)

// DefaultReloadDebounce coalesces bursts of file events into one reload.
const DefaultReloadDebounce = 250 * time.Millisecond

// ToolToggle enables a tool and optionally overrides its description. A
// missing enabled flag means enabled.
type ToolToggle struct {
	Enabled     *bool  `yaml:"enabled,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// IsEnabled reports whether the toggle leaves the tool on.
func (t ToolToggle) IsEnabled() bool { return t.Enabled == nil || *t.Enabled }

type SlackToolsFile struct {
	Enabled       *bool      `yaml:"enabled,omitempty"`
	FetchMessages ToolToggle `yaml:"fetch_messages"`
}

// ModelConfig tunes the LLM calls made by the analysis tools.
type ModelConfig struct {
	DefaultModel string  `yaml:"default_model"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
}

type OpenAIToolsFile struct {
	Enabled     *bool                 `yaml:"enabled,omitempty"`
	ModelConfig ModelConfig           `yaml:"model_config"`
	Tools       map[string]ToolToggle `yaml:"tools"`
}

// ToolsFile is the tools.yaml document.
type ToolsFile struct {
	SlackTools  SlackToolsFile  `yaml:"slack_tools"`
	OpenAITools OpenAIToolsFile `yaml:"openai_tools"`
}

var analysisTools = []string{
	builtin.SummarizeMessagesName,
	builtin.AnalyzeConversationName,
	builtin.ParticipantInfoName,
}

// DefaultToolsFile enables every tool.
func DefaultToolsFile() ToolsFile {
	var f ToolsFile
	f.applyDefaults()
	return f
}

func (f *ToolsFile) applyDefaults() {
	mc := &f.OpenAITools.ModelConfig
	if mc.DefaultModel == "" {
		mc.DefaultModel = "gpt-4"
	}
	if mc.MaxTokens == 0 {
		mc.MaxTokens = 1500
	}
	if mc.Temperature == 0 {
		mc.Temperature = 0.7
	}
}

// Validate rejects unknown tool names and out of range model settings.
func (f ToolsFile) Validate() error {
	var errs []error
	for name := range f.OpenAITools.Tools {
		known := false
		for _, n := range analysisTools {
			if n == name {
				known = true
				break
			}
		}
		if !known {
			errs = append(errs, fmt.Errorf("openai_tools.tools: unknown tool %q", name))
		}
	}
	mc := f.OpenAITools.ModelConfig
	if mc.MaxTokens < 0 {
		errs = append(errs, errors.New("openai_tools.model_config.max_tokens must not be negative"))
	}
	if mc.Temperature < 0 || mc.Temperature > 2 {
		errs = append(errs, errors.New("openai_tools.model_config.temperature must be between 0 and 2"))
	}
	if len(errs) > 0 {
		return fault.Wrap(fault.KindConfiguration, "tools.validate", errors.Join(errs...))
	}
	return nil
}

// Toggles maps every built-in tool to its effective toggle.
func (f ToolsFile) Toggles() map[string]builtin.Toggle {
	slackOn := f.SlackTools.Enabled == nil || *f.SlackTools.Enabled
	openaiOn := f.OpenAITools.Enabled == nil || *f.OpenAITools.Enabled

	out := map[string]builtin.Toggle{
		builtin.FetchMessagesName: {
			Enabled:     slackOn && f.SlackTools.FetchMessages.IsEnabled(),
			Description: f.SlackTools.FetchMessages.Description,
		},
	}
	for _, name := range analysisTools {
		t := f.OpenAITools.Tools[name]
		out[name] = builtin.Toggle{Enabled: openaiOn && t.IsEnabled(), Description: t.Description}
	}
	return out
}

// EnabledTools lists the enabled tool names, sorted.
func (f ToolsFile) EnabledTools() []string {
	var names []string
	for name, t := range f.Toggles() {
		if t.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// LoadToolsFile reads path. A missing file yields the defaults.
func LoadToolsFile(path string) (ToolsFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultToolsFile(), nil
	}
	if err != nil {
		return ToolsFile{}, fault.Wrap(fault.KindConfiguration, "tools.load", err)
	}

	var f ToolsFile
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil && err != io.EOF {
		return ToolsFile{}, fault.Wrap(fault.KindConfiguration, "tools.load", fmt.Errorf("parse %s: %w", path, err))
	}
	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return ToolsFile{}, err
	}
	return f, nil
}

// ToolsManager owns the current tools file and reloads it when it changes
// on disk.
type ToolsManager struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration

	mu        sync.RWMutex
	current   ToolsFile
	callbacks []func(ToolsFile) error

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// ToolsManagerOption configures a ToolsManager.
type ToolsManagerOption func(*ToolsManager)

// WithToolsLogger sets the logger.
func WithToolsLogger(logger *slog.Logger) ToolsManagerOption {
	return func(m *ToolsManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithReloadDebounce overrides DefaultReloadDebounce.
func WithReloadDebounce(d time.Duration) ToolsManagerOption {
	return func(m *ToolsManager) {
		if d > 0 {
			m.debounce = d
		}
	}
}

// NewToolsManager loads path and returns a manager holding it.
func NewToolsManager(path string, opts ...ToolsManagerOption) (*ToolsManager, error) {
	m := &ToolsManager{
		path:     path,
		logger:   slog.Default().With("component", "tools-config"),
		debounce: DefaultReloadDebounce,
	}
	for _, opt := range opts {
		opt(m)
	}
	f, err := LoadToolsFile(path)
	if err != nil {
		return nil, err
	}
	m.current = f
	m.logger.Info("loaded tools configuration", "path", path, "enabled", f.EnabledTools())
	return m, nil
}

// Current returns the active tools file.
func (m *ToolsManager) Current() ToolsFile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnReload registers cb to run after every successful reload that changed
// the file's content.
func (m *ToolsManager) OnReload(cb func(ToolsFile) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Reload rereads the file. Invalid files are logged and the previous
// configuration stays active.
func (m *ToolsManager) Reload() error {
	f, err := LoadToolsFile(m.path)
	if err != nil {
		m.logger.Error("tools configuration reload failed; keeping previous", "path", m.path, "error", err)
		return err
	}

	m.mu.Lock()
	if reflect.DeepEqual(m.current, f) {
		m.mu.Unlock()
		m.logger.Debug("tools configuration unchanged", "path", m.path)
		return nil
	}
	m.current = f
	callbacks := append([]func(ToolsFile) error(nil), m.callbacks...)
	m.mu.Unlock()

	m.logger.Info("tools configuration reloaded", "path", m.path, "enabled", f.EnabledTools())
	for _, cb := range callbacks {
		if err := cb(f); err != nil {
			m.logger.Error("tools reload callback failed", "error", err)
		}
	}
	return nil
}

// Watch reloads the file whenever it changes until ctx is done or Close is
// called. The parent directory is watched so editors that replace the file
// are noticed.
func (m *ToolsManager) Watch(ctx context.Context) error {
	abs, err := filepath.Abs(m.path)
	if err != nil {
		return fault.Wrap(fault.KindConfiguration, "tools.watch", err)
	}

	m.watchMu.Lock()
	if m.watcher != nil {
		m.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.watchMu.Unlock()
		return fault.Wrap(fault.KindInternal, "tools.watch", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		m.watchMu.Unlock()
		_ = watcher.Close()
		return fault.Wrap(fault.KindConfiguration, "tools.watch", err)
	}
	m.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.watchMu.Unlock()

	m.wg.Add(1)
	go m.watchLoop(watchCtx, watcher, abs)
	m.logger.Info("watching tools configuration", "path", abs)
	return nil
}

func (m *ToolsManager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, target string) {
	defer m.wg.Done()

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(m.debounce, func() { _ = m.Reload() })
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("tools configuration watch error", "error", err)
		}
	}
}

// Close stops watching.
func (m *ToolsManager) Close() error {
	m.watchMu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	watcher := m.watcher
	m.watcher = nil
	m.watchMu.Unlock()

	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	m.wg.Wait()
	return err
}
