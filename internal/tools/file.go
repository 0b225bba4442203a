package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	maxReadBytes   = 100 * 1024 // 100KB
	maxListEntries = 200
)

// ReadFileTool returns the content of args["path"], truncated at
// maxReadBytes.
type ReadFileTool struct{}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Run(_ context.Context, args map[string]string) (string, error) {
	path := args["path"]
	if path == "" {
		return "", fmt.Errorf("read_file: missing path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read_file: %w", err)
	}
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
		return string(data) + "\n[content truncated]", nil
	}
	return string(data), nil
}

// WriteFileTool writes args["content"] to args["path"], creating parent
// directories as needed.
type WriteFileTool struct{}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Run(_ context.Context, args map[string]string) (string, error) {
	path := args["path"]
	if path == "" {
		return "", fmt.Errorf("write_file: missing path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("write_file: create parent dir: %w", err)
		}
	}
	content := args["content"]
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write_file: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

// ListDirectoryTool lists args["path"]'s entries, capped at
// maxListEntries.
type ListDirectoryTool struct{}

func (t *ListDirectoryTool) Name() string { return "list_directory" }

func (t *ListDirectoryTool) Run(_ context.Context, args map[string]string) (string, error) {
	path := args["path"]
	if path == "" {
		path = "."
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("list_directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	out := ""
	for i, e := range entries {
		if i >= maxListEntries {
			out += fmt.Sprintf("... [%d more entries truncated]\n", len(entries)-maxListEntries)
			break
		}
		kind := "file"
		if e.IsDir() {
			kind = "dir"
		}
		out += fmt.Sprintf("%s\t%s\n", kind, e.Name())
	}
	return out, nil
}
