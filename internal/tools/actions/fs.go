package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aura-dev/aura/internal/tools"
	"github.com/aura-dev/aura/pkg/models"
)

// codeChunkSize is the number of characters streamed per code_stream_chunk
// event while a file is being written.
const codeChunkSize = 100

func writeFile(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	path := stringArg(args, "path")
	content := stringArg(args, "content")

	if strings.TrimSpace(content) == "" {
		return fmt.Sprintf("Error: Attempted to write an empty or whitespace-only file to '%s'. Operation aborted.", path), nil
	}

	streamCode(tc, path, content)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}

// streamCode mirrors file content to connected clients chunk by chunk. The
// leading empty chunk tells viewers to reset the tab for this file.
func streamCode(tc *tools.ToolContext, path, content string) {
	if tc == nil || tc.Bus == nil {
		return
	}
	display := displayPath(tc, path)
	tc.Bus.BroadcastToUser(tc.UserID, models.CodeStreamChunk(display, ""))
	for _, chunk := range chunkRunes(content, codeChunkSize) {
		tc.Bus.BroadcastToUser(tc.UserID, models.CodeStreamChunk(display, chunk))
	}
}

// chunkRunes splits s into pieces of n runes. Splitting on rune boundaries
// keeps every chunk valid UTF-8 for JSON encoding.
func chunkRunes(s string, n int) []string {
	if s == "" || n <= 0 {
		return nil
	}
	var chunks []string
	var b strings.Builder
	count := 0
	for _, r := range s {
		b.WriteRune(r)
		count++
		if count == n {
			chunks = append(chunks, b.String())
			b.Reset()
			count = 0
		}
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

func appendToFile(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	path := stringArg(args, "path")
	content := stringArg(args, "content")

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fmt.Sprintf("Error: File not found at path '%s'. Cannot append.", path), nil
	}
	existing, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		if _, err := f.WriteString("\n"); err != nil {
			return nil, err
		}
	}
	n, err := f.WriteString(content)
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Successfully appended %d bytes to %s", n, path), nil
}

func readFile(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	path := stringArg(args, "path")

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Sprintf("Error: File not found at path '%s'", path), nil
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: Path '%s' is a directory, not a file.", path), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func listFiles(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	path := stringArg(args, "path")
	if path == "" {
		path = tc.ProjectRoot
	}

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Sprintf("Error: Directory not found at path '%s'", path), nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return fmt.Sprintf("Error: Path '%s' is a file, not a directory.", path), nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		return fmt.Sprintf("Directory '%s' is empty.", path), nil
	}
	return fmt.Sprintf("Contents of '%s':\n%s", path, strings.Join(names, "\n")), nil
}

func createDirectory(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	path := stringArg(args, "path")

	if _, err := os.Stat(path); err == nil {
		return fmt.Sprintf("Error: Directory already exists at %s", path), nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Successfully created directory at %s", path), nil
}

func createPackageInit(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	path := stringArg(args, "path")

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	initPath := filepath.Join(path, "__init__.py")
	if _, err := os.Stat(initPath); err == nil {
		return fmt.Sprintf("Package already initialized at '%s'.", path), nil
	}

	name := filepath.Base(path)
	content := fmt.Sprintf("\"\"\"Initializes the '%s' package.\"\"\"\n", name)
	if err := os.WriteFile(initPath, []byte(content), 0o644); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Successfully initialized package '%s' at '%s'.", name, path), nil
}

func deleteDirectory(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	path := stringArg(args, "path")

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Sprintf("Error: Cannot delete. Directory not found at '%s'.", path), nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return fmt.Sprintf("Error: Path '%s' is a file, not a directory. Use 'delete_file' instead.", path), nil
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Successfully deleted directory: %s", path), nil
}

func copyFile(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	source := stringArg(args, "source_path")
	destination := stringArg(args, "destination_path")

	info, err := os.Stat(source)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Sprintf("Error: Source file not found at '%s'.", source), nil
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: Source path '%s' is a directory, not a file. This tool only copies files.", source), nil
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return nil, err
	}
	if err := copyFileContents(source, destination, info.Mode()); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Successfully copied file from '%s' to '%s'.", source, destination), nil
}

func copyFileContents(source, destination string, mode os.FileMode) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(destination, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func moveFile(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	source := stringArg(args, "source_path")
	destination := stringArg(args, "destination_path")

	info, err := os.Stat(source)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Sprintf("Error: Source file not found at '%s'.", source), nil
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: Source path '%s' is a directory, not a file. This tool only moves files.", source), nil
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return nil, err
	}
	if err := os.Rename(source, destination); err != nil {
		// Rename fails across filesystems; fall back to copy and delete.
		if cerr := copyFileContents(source, destination, info.Mode()); cerr != nil {
			return nil, cerr
		}
		if rerr := os.Remove(source); rerr != nil {
			return nil, rerr
		}
	}
	return fmt.Sprintf("Successfully moved file from '%s' to '%s'.", source, destination), nil
}

func deleteFile(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	path := stringArg(args, "path")

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Sprintf("Error: Cannot delete. File not found at '%s'.", path), nil
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: Path '%s' is a directory, not a file. This tool only deletes files.", path), nil
	}
	if err := os.Remove(path); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Successfully deleted file: %s", path), nil
}
