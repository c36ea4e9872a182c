package toolset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// validatePath resolves relPath against workspace and rejects anything
// that would escape it.
func validatePath(workspace, relPath string) (string, error) {
	if workspace == "" {
		return "", fmt.Errorf("no workspace configured")
	}
	abs, err := filepath.Abs(filepath.Join(workspace, filepath.Clean(relPath)))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	wsAbs, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("invalid workspace: %w", err)
	}
	if abs != wsAbs && !strings.HasPrefix(abs, wsAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal not allowed: %s", relPath)
	}
	return abs, nil
}

// ReadTool reads a file from the workspace.
type ReadTool struct {
	Workspace string
}

func (t *ReadTool) Name() string        { return "read_file" }
func (t *ReadTool) Description() string { return "Read a file from the workspace" }
func (t *ReadTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Relative path to the file"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadTool) Execute(_ context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	abs, err := validatePath(t.Workspace, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return string(data), nil
}

// WriteTool writes a file to the workspace, creating parent directories
// as needed.
type WriteTool struct {
	Workspace string
}

func (t *WriteTool) Name() string        { return "write_file" }
func (t *WriteTool) Description() string { return "Write a file to the workspace" }
func (t *WriteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "Relative path to the file"},
			"content": map[string]any{"type": "string", "description": "File content to write"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteTool) Execute(_ context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	abs, err := validatePath(t.Workspace, path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	return map[string]any{"path": path, "bytes_written": len(content)}, nil
}
