package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type fakeExecutor struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

func (f *fakeExecutor) Exec(_ context.Context, _, _ string) (string, string, int, error) {
	return f.stdout, f.stderr, f.exitCode, f.err
}

func TestCatalog_RunDispatchesByName(t *testing.T) {
	cat := NewCatalog(&ShellTool{Executor: &fakeExecutor{stdout: "hi"}})
	out, err := cat.Run(context.Background(), "shell", map[string]string{"command": "echo hi"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out == "" {
		t.Fatalf("expected non-empty output")
	}
}

func TestCatalog_RunUnknownTool(t *testing.T) {
	cat := NewCatalog()
	if _, err := cat.Run(context.Background(), "nope", nil); err == nil {
		t.Fatalf("expected error for unknown tool")
	}
}

func TestShellTool_DeniesDangerousCommand(t *testing.T) {
	tool := &ShellTool{Executor: &fakeExecutor{}}
	if _, err := tool.Run(context.Background(), map[string]string{"command": "rm -rf /"}); err == nil {
		t.Fatalf("expected deny for rm")
	}
}

func TestShellTool_MissingCommand(t *testing.T) {
	tool := &ShellTool{Executor: &fakeExecutor{}}
	if _, err := tool.Run(context.Background(), map[string]string{}); err == nil {
		t.Fatalf("expected error for missing command")
	}
}

func TestShellTool_ReturnsExitCodeAndOutput(t *testing.T) {
	tool := &ShellTool{Executor: &fakeExecutor{stdout: "ok", exitCode: 0}}
	out, err := tool.Run(context.Background(), map[string]string{"command": "echo ok"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "exit_code=0\nok" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestReadWriteFileTool_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "note.txt")

	write := &WriteFileTool{}
	if _, err := write.Run(context.Background(), map[string]string{"path": path, "content": "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	read := &ReadFileTool{}
	out, err := read.Run(context.Background(), map[string]string{"path": path})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out != "hello" {
		t.Fatalf("got %q, want %q", out, "hello")
	}
}

func TestReadFileTool_MissingPath(t *testing.T) {
	tool := &ReadFileTool{}
	if _, err := tool.Run(context.Background(), map[string]string{}); err == nil {
		t.Fatalf("expected error for missing path")
	}
}

func TestListDirectoryTool_ListsEntries(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("seed dir: %v", err)
	}

	tool := &ListDirectoryTool{}
	out, err := tool.Run(context.Background(), map[string]string{"path": dir})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out == "" {
		t.Fatalf("expected non-empty listing")
	}
}

func TestHTMLToText_StripsTagsAndScripts(t *testing.T) {
	html := `<html><head><script>bad()</script></head><body><p>Hello</p><div>World</div></body></html>`
	text := htmlToText(html)
	if text == "" {
		t.Fatalf("expected non-empty text")
	}
	if got := text; got == html {
		t.Fatalf("expected tags stripped")
	}
}

func TestDefaultCatalog_RegistersExpectedTools(t *testing.T) {
	cat := DefaultCatalog()
	want := map[string]bool{
		"shell": false, "read_file": false, "write_file": false,
		"list_directory": false, "read_url": false,
	}
	for _, name := range cat.Names() {
		want[name] = true
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected tool %q in default catalog", name)
		}
	}
}
