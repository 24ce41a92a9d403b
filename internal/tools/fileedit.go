package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	diff "github.com/shogoki/gotextdiff"
)

// maxEditSize caps new content at 10 MiB.
const maxEditSize = 10 * 1024 * 1024

// FileEditTool writes files with diff preview, optional checkpoint
// backup, and atomic replace.
type FileEditTool struct {
	// WorkspaceRoot, when set, fences absolute paths. Defence in depth,
	// not a sandbox.
	WorkspaceRoot string
	// BackupDir receives <basename>.<unix_ts>.backup checkpoints.
	BackupDir string
}

// NewFileEditTool builds the tool. backupDir defaults to
// <workspaceRoot>/.zeke-backups when empty.
func NewFileEditTool(workspaceRoot, backupDir string) *FileEditTool {
	if backupDir == "" && workspaceRoot != "" {
		backupDir = filepath.Join(workspaceRoot, ".zeke-backups")
	}
	return &FileEditTool{WorkspaceRoot: workspaceRoot, BackupDir: backupDir}
}

func (t *FileEditTool) Name() string       { return "file_write" }
func (t *FileEditTool) Category() Category { return CategoryFile }
func (t *FileEditTool) Description() string {
	return "Write a file with diff preview, checkpoint backup, and atomic replace"
}
func (t *FileEditTool) RequiresConfirmation() bool { return true }

func (t *FileEditTool) Schema() Schema {
	return Schema{
		"file_path":     {Type: "string", Required: true, Description: "Path of the file to write"},
		"content":       {Type: "string", Required: true, Description: "Full new file content"},
		"create_backup": {Type: "boolean", Required: false, Description: "Checkpoint the previous content first", Default: true},
	}
}

// checkPath rejects traversal and escapes from the workspace root.
func (t *FileEditTool) checkPath(path string) (string, error) {
	if path == "" {
		return "", NewError(ErrInvalidParams, "file_path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return "", NewErrorf(ErrPathTraversal, "path %q contains ..", path)
		}
	}
	if !filepath.IsAbs(path) {
		root := t.WorkspaceRoot
		if root == "" {
			var err error
			root, err = os.Getwd()
			if err != nil {
				return "", err
			}
		}
		path = filepath.Join(root, path)
	} else if t.WorkspaceRoot != "" {
		rel, err := filepath.Rel(t.WorkspaceRoot, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", NewErrorf(ErrPathTraversal, "path %q escapes the workspace root", path)
		}
	}
	return filepath.Clean(path), nil
}

// Execute applies the edit: validate, back up, write atomically.
func (t *FileEditTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	schema := t.Schema()
	path := stringParam(params, schema, "file_path")
	content := stringParam(params, schema, "content")
	createBackup := boolParam(params, schema, "create_backup")

	resolved, err := t.checkPath(path)
	if err != nil {
		return nil, err
	}
	if len(content) > maxEditSize {
		return nil, NewErrorf(ErrContentTooLarge, "content is %d bytes, limit is %d", len(content), maxEditSize)
	}

	previous, err := os.ReadFile(resolved)
	existed := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, NewErrorf(ErrExecutionFailed, "read %s: %v", resolved, err)
	}

	if createBackup && existed {
		if _, err := t.backup(resolved, previous); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, NewErrorf(ErrExecutionFailed, "create parent directory: %v", err)
	}
	if err := atomicWrite(resolved, []byte(content)); err != nil {
		return nil, NewErrorf(ErrExecutionFailed, "write %s: %v", resolved, err)
	}

	summary := fmt.Sprintf("wrote %d bytes to %s", len(content), resolved)
	return &Result{Success: true, Output: []byte(summary)}, nil
}

func (t *FileEditTool) backup(path string, content []byte) (string, error) {
	dir := t.BackupDir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(path), ".zeke-backups")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", NewErrorf(ErrExecutionFailed, "create backup directory: %v", err)
	}
	name := fmt.Sprintf("%s.%d.backup", filepath.Base(path), time.Now().Unix())
	backupPath := filepath.Join(dir, name)
	if err := atomicWrite(backupPath, content); err != nil {
		return "", NewErrorf(ErrExecutionFailed, "write backup: %v", err)
	}
	return backupPath, nil
}

// Preview returns a unified diff of the proposed edit without touching
// the file.
func (t *FileEditTool) Preview(path, newContent string) (string, error) {
	resolved, err := t.checkPath(path)
	if err != nil {
		return "", err
	}
	previous, err := os.ReadFile(resolved)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", NewErrorf(ErrExecutionFailed, "read %s: %v", resolved, err)
	}
	if string(previous) == newContent {
		return "", nil
	}
	out := diff.Diff(path, previous, path, []byte(newContent))
	return string(out), nil
}

// Backups lists checkpoint files for a path, newest first.
func (t *FileEditTool) Backups(path string) ([]string, error) {
	resolved, err := t.checkPath(path)
	if err != nil {
		return nil, err
	}
	dir := t.BackupDir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(resolved), ".zeke-backups")
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	prefix := filepath.Base(resolved) + "."
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".backup") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

// atomicWrite writes via a temp file in the target directory and
// renames into place so no partial write survives a crash.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// PreviewTool exposes diff preview as its own read-only tool.
type PreviewTool struct {
	edit *FileEditTool
}

// NewPreviewTool wraps a FileEditTool for preview-only calls.
func NewPreviewTool(edit *FileEditTool) *PreviewTool {
	return &PreviewTool{edit: edit}
}

func (t *PreviewTool) Name() string               { return "file_preview" }
func (t *PreviewTool) Category() Category         { return CategoryFile }
func (t *PreviewTool) Description() string        { return "Preview a file edit as a unified diff" }
func (t *PreviewTool) RequiresConfirmation() bool { return false }

func (t *PreviewTool) Schema() Schema {
	return Schema{
		"file_path": {Type: "string", Required: true, Description: "Path of the file to diff against"},
		"content":   {Type: "string", Required: true, Description: "Proposed new content"},
	}
}

func (t *PreviewTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	schema := t.Schema()
	preview, err := t.edit.Preview(
		stringParam(params, schema, "file_path"),
		stringParam(params, schema, "content"))
	if err != nil {
		return nil, err
	}
	return &Result{Success: true, Output: []byte(preview)}, nil
}

// BackupsTool lists checkpoints for a file, newest first.
type BackupsTool struct {
	edit *FileEditTool
}

// NewBackupsTool wraps a FileEditTool for checkpoint listing.
func NewBackupsTool(edit *FileEditTool) *BackupsTool {
	return &BackupsTool{edit: edit}
}

func (t *BackupsTool) Name() string               { return "file_backups" }
func (t *BackupsTool) Category() Category         { return CategoryFile }
func (t *BackupsTool) Description() string        { return "List checkpoint backups for a file" }
func (t *BackupsTool) RequiresConfirmation() bool { return false }

func (t *BackupsTool) Schema() Schema {
	return Schema{
		"file_path": {Type: "string", Required: true, Description: "Path whose backups to list"},
	}
}

func (t *BackupsTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	schema := t.Schema()
	backups, err := t.edit.Backups(stringParam(params, schema, "file_path"))
	if err != nil {
		return nil, err
	}
	return &Result{Success: true, Output: []byte(strings.Join(backups, "\n"))}, nil
}
