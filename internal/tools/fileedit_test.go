package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newEditTool(t *testing.T) (*FileEditTool, string) {
	t.Helper()
	root := t.TempDir()
	return NewFileEditTool(root, filepath.Join(root, "backups")), root
}

func TestFileWriteAndBackup(t *testing.T) {
	tool, root := newEditTool(t)
	path := filepath.Join(root, "main.go")
	if err := os.WriteFile(path, []byte("old content\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := tool.Execute(context.Background(), map[string]any{
		"file_path":     path,
		"content":       "new content\n",
		"create_backup": true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Error("write not successful")
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new content\n" {
		t.Errorf("content = %q", got)
	}

	backups, err := tool.Backups(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 1 {
		t.Fatalf("backups = %d, want 1", len(backups))
	}
	backup, err := os.ReadFile(backups[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(backup) != "old content\n" {
		t.Errorf("backup = %q", backup)
	}
	if !strings.HasSuffix(backups[0], ".backup") {
		t.Errorf("backup name = %q", backups[0])
	}
}

func TestFileWriteCreatesParents(t *testing.T) {
	tool, root := newEditTool(t)
	path := filepath.Join(root, "deep", "nested", "file.txt")
	_, err := tool.Execute(context.Background(), map[string]any{
		"file_path": path,
		"content":   "x",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("file missing: %v", err)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	tool, root := newEditTool(t)
	cases := []string{
		"../escape.txt",
		"a/../../escape.txt",
		filepath.Join(root, "..", "escape.txt"),
	}
	for _, path := range cases {
		_, err := tool.Execute(context.Background(), map[string]any{
			"file_path": path,
			"content":   "x",
		})
		if err == nil {
			t.Errorf("path %q accepted", path)
			continue
		}
		if terr, ok := err.(*Error); !ok || terr.Type != ErrPathTraversal {
			t.Errorf("path %q: error = %v, want PathTraversal", path, err)
		}
	}
}

func TestAbsolutePathOutsideWorkspaceRejected(t *testing.T) {
	tool, _ := newEditTool(t)
	outside := filepath.Join(t.TempDir(), "outside.txt")
	_, err := tool.Execute(context.Background(), map[string]any{
		"file_path": outside,
		"content":   "x",
	})
	if err == nil {
		t.Fatal("absolute path outside workspace accepted")
	}
}

func TestContentSizeBoundary(t *testing.T) {
	tool, root := newEditTool(t)
	path := filepath.Join(root, "big.bin")

	exact := strings.Repeat("a", maxEditSize)
	if _, err := tool.Execute(context.Background(), map[string]any{
		"file_path": path,
		"content":   exact,
	}); err != nil {
		t.Errorf("content of exactly 10 MiB rejected: %v", err)
	}

	over := exact + "a"
	_, err := tool.Execute(context.Background(), map[string]any{
		"file_path": path,
		"content":   over,
	})
	if err == nil {
		t.Fatal("content of 10 MiB + 1 accepted")
	}
	if terr, ok := err.(*Error); !ok || terr.Type != ErrContentTooLarge {
		t.Errorf("error = %v, want ContentTooLarge", err)
	}
}

func TestWriteIsAllOrNothing(t *testing.T) {
	tool, root := newEditTool(t)
	path := filepath.Join(root, "f.txt")
	if err := os.WriteFile(path, []byte("before"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A rejected write must leave the file untouched.
	_, err := tool.Execute(context.Background(), map[string]any{
		"file_path": path,
		"content":   strings.Repeat("a", maxEditSize+1),
	})
	if err == nil {
		t.Fatal("oversized write accepted")
	}
	got, _ := os.ReadFile(path)
	if string(got) != "before" {
		t.Errorf("file changed on failed write: %q", got)
	}

	// No temp files left behind.
	entries, _ := os.ReadDir(root)
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp") {
			t.Errorf("stray temp file %q", e.Name())
		}
	}
}

func TestPreviewProducesUnifiedDiff(t *testing.T) {
	tool, root := newEditTool(t)
	path := filepath.Join(root, "p.txt")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := tool.Preview(path, "one\nTWO\nthree\n")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "--- ") || !strings.Contains(out, "+++ ") {
		t.Errorf("diff missing headers:\n%s", out)
	}
	if !strings.Contains(out, "-two") || !strings.Contains(out, "+TWO") {
		t.Errorf("diff missing change markers:\n%s", out)
	}

	// Identical content yields an empty preview.
	same, err := tool.Preview(path, "one\ntwo\nthree\n")
	if err != nil {
		t.Fatal(err)
	}
	if same != "" {
		t.Errorf("identical preview = %q", same)
	}
}
