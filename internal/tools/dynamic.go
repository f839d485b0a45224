package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/aura-dev/aura/internal/observability"
)

// dynamicToolTimeout caps one script-backed tool invocation.
const dynamicToolTimeout = 5 * time.Minute

// dynamicOutputLimit bounds the script output carried into results.
const dynamicOutputLimit = 64000

// watchDebounce coalesces bursts of manifest writes into one reload.
const watchDebounce = 250 * time.Millisecond

// Manifest describes a script-backed tool. create_new_tool mints these
// under {project_root}/.aura/tools; hand-written manifests in the same
// directory load the same way.
type Manifest struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Interpreter string          `yaml:"interpreter,omitempty"`
	Script      string          `yaml:"script"`
	Parameters  []ManifestParam `yaml:"parameters,omitempty"`
}

// ManifestParam declares one argument of a script-backed tool. Path-marked
// parameters get the runner's workspace resolution and escape guard.
type ManifestParam struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty"`
	Path        bool   `yaml:"path,omitempty"`
}

// manifestTypes is the set of JSON Schema types a manifest may declare.
// Anything else falls back to string.
var manifestTypes = map[string]bool{
	"string": true, "integer": true, "number": true,
	"boolean": true, "array": true, "object": true,
}

// descriptor converts a manifest into a catalog descriptor whose action
// runs the script with the invocation arguments as JSON on stdin.
func (m *Manifest) descriptor(dir string) (*Descriptor, error) {
	if strings.TrimSpace(m.Name) == "" {
		return nil, errors.New("manifest has no name")
	}
	if strings.TrimSpace(m.Script) == "" {
		return nil, fmt.Errorf("manifest %q has no script", m.Name)
	}

	schema, err := m.schemaJSON()
	if err != nil {
		return nil, err
	}

	interpreter := m.Interpreter
	if interpreter == "" {
		interpreter = "python3"
	}
	scriptPath := filepath.Join(dir, m.Script)

	var pathParams []string
	for _, p := range m.Parameters {
		if p.Path {
			pathParams = append(pathParams, p.Name)
		}
	}

	return &Descriptor{
		Name:             m.Name,
		Description:      m.Description,
		ParametersSchema: schema,
		Action:           scriptAction(m.Name, interpreter, scriptPath),
		RequiredServices: []string{ServiceProjectManager},
		PathParams:       pathParams,
		// Scripts run arbitrary code inside the workspace; assume the
		// tree changed on every success.
		Mutating: true,
	}, nil
}

// schemaJSON renders the manifest parameters as a JSON Schema object.
func (m *Manifest) schemaJSON() (string, error) {
	properties := make(map[string]any, len(m.Parameters))
	var required []string
	for _, p := range m.Parameters {
		if strings.TrimSpace(p.Name) == "" {
			return "", fmt.Errorf("manifest %q declares a parameter with no name", m.Name)
		}
		typ := p.Type
		if !manifestTypes[typ] {
			typ = "string"
		}
		prop := map[string]any{"type": typ}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// scriptAction builds the action for a script-backed tool. The script gets
// the validated arguments as JSON on stdin and runs from the project root;
// its trimmed stdout is the result string, so scripts signal expected
// failures by printing "Error: ...".
func scriptAction(name, interpreter, scriptPath string) Action {
	return func(ctx context.Context, args map[string]any, tc *ToolContext) (any, error) {
		payload, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}

		runCtx, cancel := context.WithTimeout(ctx, dynamicToolTimeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, interpreter, scriptPath)
		cmd.Dir = tc.ProjectRoot
		cmd.Stdin = bytes.NewReader(payload)
		cmd.Env = append(os.Environ(), "AURA_PROJECT_ROOT="+tc.ProjectRoot)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err = cmd.Run()
		output := truncateOutput(strings.TrimSpace(stdout.String()))

		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return map[string]any{
				"status":      "failure",
				"summary":     fmt.Sprintf("Tool '%s' timed out after %s.", name, dynamicToolTimeout),
				"full_output": output,
			}, nil
		}
		if err != nil {
			detail := truncateOutput(strings.TrimSpace(stderr.String()))
			if detail == "" {
				detail = output
			}
			return map[string]any{
				"status":      "failure",
				"summary":     fmt.Sprintf("Tool '%s' exited with an error: %v", name, err),
				"full_output": detail,
			}, nil
		}
		if output == "" {
			return fmt.Sprintf("Tool '%s' completed successfully.", name), nil
		}
		return output, nil
	}
}

func truncateOutput(s string) string {
	if len(s) <= dynamicOutputLimit {
		return s
	}
	return s[:dynamicOutputLimit]
}

// DynamicLoader keeps the catalog in sync with the manifests of one
// project's .aura/tools directory: a full load on project load, then
// debounced reloads driven by fsnotify so freshly minted tools become
// available mid-mission. Closing the loader retires its tools.
type DynamicLoader struct {
	catalog *Catalog
	dir     string
	logger  *observability.Logger

	mu      sync.Mutex
	loaded  map[string]struct{}
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDynamicLoader creates a loader for the given manifest directory.
func NewDynamicLoader(catalog *Catalog, dir string, logger *observability.Logger) *DynamicLoader {
	return &DynamicLoader{
		catalog: catalog,
		dir:     dir,
		logger:  logger.WithFields("component", "tools.dynamic"),
		loaded:  make(map[string]struct{}),
	}
}

// Sync loads every manifest in the directory and retires tools whose
// manifests disappeared. Invalid manifests are skipped with a warning so
// one broken tool cannot take down the rest.
func (l *DynamicLoader) Sync(ctx context.Context) error {
	entries, err := os.ReadDir(l.dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	seen := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		name, err := l.loadManifest(path)
		if err != nil {
			l.logger.Warn(ctx, "skipping tool manifest", "path", path, "error", err)
			continue
		}
		seen[name] = struct{}{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for name := range l.loaded {
		if _, ok := seen[name]; !ok {
			l.catalog.Unregister(name)
			delete(l.loaded, name)
			l.logger.Info(ctx, "retired dynamic tool", "tool", name)
		}
	}
	return nil
}

// loadManifest registers one manifest and returns the tool name it claims.
func (l *DynamicLoader) loadManifest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return "", fmt.Errorf("parse manifest: %w", err)
	}
	desc, err := manifest.descriptor(l.dir)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, owned := l.loaded[desc.Name]; !owned {
		if _, exists := l.catalog.Get(desc.Name); exists {
			return "", fmt.Errorf("tool %q would shadow an existing tool", desc.Name)
		}
	}
	if err := l.catalog.Register(desc); err != nil {
		return "", err
	}
	l.loaded[desc.Name] = struct{}{}
	return desc.Name, nil
}

// Watch starts the fsnotify loop. Manifest events are debounced into a
// full Sync, so a create_new_tool call (script write then manifest write)
// results in a single reload.
func (l *DynamicLoader) Watch(ctx context.Context) error {
	l.mu.Lock()
	if l.watcher != nil {
		l.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		l.mu.Unlock()
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.mu.Unlock()
		return err
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		l.mu.Unlock()
		return err
	}
	l.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.mu.Unlock()

	l.wg.Add(1)
	go l.watchLoop(watchCtx, watcher)
	return nil
}

func (l *DynamicLoader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer l.wg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleSync := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			if err := l.Sync(context.Background()); err != nil {
				l.logger.Warn(context.Background(), "dynamic tool sync failed", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleSync()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn(ctx, "dynamic tool watch error", "error", err)
		}
	}
}

// Close stops the watcher and unregisters every tool this loader owns.
func (l *DynamicLoader) Close() error {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	watcher := l.watcher
	l.watcher = nil
	l.mu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	for name := range l.loaded {
		l.catalog.Unregister(name)
		delete(l.loaded, name)
	}
	return nil
}
