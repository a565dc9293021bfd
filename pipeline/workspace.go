package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace is a private directory for one job's intermediate artifacts.
type Workspace struct {
	path string
}

// NewWorkspace creates <root>/<token>. Tokens are unique per job, so
// concurrent jobs never share files.
func NewWorkspace(root, token string) (*Workspace, error) {
	if strings.TrimSpace(token) == "" || strings.ContainsAny(token, `/\`) || token == "." || token == ".." {
		return nil, fmt.Errorf("invalid workspace token %q", token)
	}
	dir := filepath.Join(root, token)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{path: dir}, nil
}

func (w *Workspace) Path() string {
	return w.path
}

func (w *Workspace) File(name string) string {
	return filepath.Join(w.path, name)
}

// Remove deletes the workspace and everything in it. Safe to call twice.
func (w *Workspace) Remove() error {
	if w == nil || w.path == "" {
		return nil
	}
	return os.RemoveAll(w.path)
}
