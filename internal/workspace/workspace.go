// Package workspace manages per-user project directories: creation, listing,
// file access and the directory-tree snapshots pushed to clients. Every path
// that reaches a file operation is resolved against the project root first;
// escaping the root is an error, never a silent clamp.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/aura-dev/aura/internal/observability"
	"github.com/aura-dev/aura/pkg/models"
)

var (
	// ErrProjectNotFound is returned when a project directory does not exist.
	ErrProjectNotFound = errors.New("project not found")

	// ErrProjectExists is returned when creating a project that already exists.
	ErrProjectExists = errors.New("project already exists")

	// ErrInvalidName is returned for project names that could traverse
	// directories or collide with reserved names.
	ErrInvalidName = errors.New("invalid project name")

	// ErrFileNotFound is returned when a workspace file does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrPathEscape is returned when a resolved path leaves the project root.
	ErrPathEscape = errors.New("path escapes workspace")
)

// ignoreDirs are skipped in file trees and by the indexer; they are tool
// output or VCS internals, not project content.
var ignoreDirs = map[string]bool{
	".git":         true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	"node_modules": true,
	".aura":        true,
}

var projectNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._ -]*$`)

// Manager resolves project directories under {dataDir}/{userID}/{project}.
type Manager struct {
	dataDir string
	logger  *observability.Logger
}

// NewManager creates a workspace manager rooted at dataDir.
func NewManager(dataDir string, logger *observability.Logger) *Manager {
	return &Manager{dataDir: dataDir, logger: logger.WithFields("component", "workspace")}
}

func (m *Manager) userRoot(userID string) string {
	return filepath.Join(m.dataDir, userID)
}

func validateProjectName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, `/\`) {
		return ErrInvalidName
	}
	if !projectNamePattern.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

// CreateProject makes a fresh project directory and returns its path.
func (m *Manager) CreateProject(ctx context.Context, userID, name string) (string, error) {
	if err := validateProjectName(name); err != nil {
		return "", err
	}
	root := filepath.Join(m.userRoot(userID), name)
	if _, err := os.Stat(root); err == nil {
		return "", ErrProjectExists
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create project directory: %w", err)
	}
	m.logger.Info(ctx, "project created", "project", name)
	return root, nil
}

// ProjectRoot returns the absolute path of an existing project.
func (m *Manager) ProjectRoot(userID, name string) (string, error) {
	if err := validateProjectName(name); err != nil {
		return "", err
	}
	root := filepath.Join(m.userRoot(userID), name)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return "", ErrProjectNotFound
	}
	return root, nil
}

// ListProjects returns the user's project names, sorted.
func (m *Manager) ListProjects(ctx context.Context, userID string) ([]string, error) {
	entries, err := os.ReadDir(m.userRoot(userID))
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read user workspace: %w", err)
	}

	projects := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			projects = append(projects, entry.Name())
		}
	}
	sort.Strings(projects)
	return projects, nil
}

// DeleteProject removes the project directory and everything in it.
func (m *Manager) DeleteProject(ctx context.Context, userID, name string) error {
	root, err := m.ProjectRoot(userID, name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	m.logger.Info(ctx, "project deleted", "project", name)
	return nil
}

// ResolvePath joins rel onto root and verifies the result stays inside it.
// Absolute inputs are accepted only when they already point into the root.
func ResolvePath(root, rel string) (string, error) {
	var candidate string
	if filepath.IsAbs(rel) {
		candidate = filepath.Clean(rel)
	} else {
		candidate = filepath.Join(root, rel)
	}

	relToRoot, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", ErrPathEscape
	}
	if relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(filepath.Separator)) {
		return "", ErrPathEscape
	}
	return candidate, nil
}

// ReadFile returns the content of one project file.
func (m *Manager) ReadFile(userID, project, rel string) (string, error) {
	root, err := m.ProjectRoot(userID, project)
	if err != nil {
		return "", err
	}
	path, err := ResolvePath(root, rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrFileNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(data), nil
}

// WriteFile writes one project file, creating parent directories as needed,
// and returns the absolute path written.
func (m *Manager) WriteFile(userID, project, rel, content string) (string, error) {
	root, err := m.ProjectRoot(userID, project)
	if err != nil {
		return "", err
	}
	path, err := ResolvePath(root, rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// FileTree returns the project's directory tree, directories before files,
// both alphabetical. Ignored directories are pruned.
func (m *Manager) FileTree(userID, project string) ([]models.FileNode, error) {
	root, err := m.ProjectRoot(userID, project)
	if err != nil {
		return nil, err
	}
	return BuildTree(root)
}

// BuildTree walks a directory into FileNodes with slash-separated relative
// paths. Exported because the tool runner snapshots trees after mutations.
func BuildTree(root string) ([]models.FileNode, error) {
	return buildTree(root, "")
}

func buildTree(dir, prefix string) ([]models.FileNode, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	nodes := make([]models.FileNode, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() && ignoreDirs[name] {
			continue
		}
		relPath := name
		if prefix != "" {
			relPath = prefix + "/" + name
		}

		if entry.IsDir() {
			children, err := buildTree(filepath.Join(dir, name), relPath)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, models.FileNode{
				Name:     name,
				Path:     relPath,
				Type:     models.FileNodeDirectory,
				Children: children,
			})
			continue
		}
		nodes = append(nodes, models.FileNode{
			Name: name,
			Path: relPath,
			Type: models.FileNodeFile,
		})
	}
	return nodes, nil
}

// IsIgnoredDir reports whether a directory name is excluded from trees and
// indexing.
func IsIgnoredDir(name string) bool {
	return ignoreDirs[name]
}
