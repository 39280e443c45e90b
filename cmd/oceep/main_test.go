package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func init() {
	color.NoColor = true
}

func ollamaServer(t *testing.T, chunks ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, c := range append(chunks, "") {
			line, _ := json.Marshal(map[string]any{
				"model":   "llama",
				"message": map[string]string{"role": "assistant", "content": c},
				"done":    c == "",
			})
			fmt.Fprintf(w, "%s\n", line)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func configDirFor(t *testing.T, host string) string {
	t.Helper()
	for _, k := range []string{"OCEEP_PORT", "OCEEP_LOG_LEVEL", "OCEEP_API_KEY", "OCEEP_MODEL", "OCEEP_STORE_TYPE", "OCEEP_STORE_PATH", "OLLAMA_HOST"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	dir := t.TempDir()
	cfg := fmt.Sprintf("logLevel: error\nllm:\n  provider: ollama\n  model: llama\n  host: %s\n", host)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(cfg), 0600); err != nil {
		t.Fatal(err)
	}
	return dir
}

// resetFlags puts every flag back to its default, since the commands are package globals.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config-dir", dir}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func activeChatID(t *testing.T, sessions string) string {
	t.Helper()
	for _, line := range strings.Split(sessions, "\n") {
		if fields := strings.Fields(line); len(fields) > 1 && fields[0] == "*" {
			return fields[1]
		}
	}
	t.Fatalf("no active chat in %q", sessions)
	return ""
}

func TestAskAndSessions(t *testing.T) {
	dir := configDirFor(t, ollamaServer(t, "Hel", "lo").URL)

	out, err := execute(t, dir, "ask", "--new", "hi", "there")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if out != "Hello\n" {
		t.Errorf("ask output = %q, want %q", out, "Hello\n")
	}

	out, err = execute(t, dir, "sessions")
	if err != nil {
		t.Fatalf("sessions failed: %v", err)
	}
	if !strings.Contains(out, "hi there (2 messages") {
		t.Errorf("expected titled chat in %q", out)
	}
	id := activeChatID(t, out)

	if _, err := execute(t, dir, "ask", "--chat", id, "again"); err != nil {
		t.Fatalf("ask in chat failed: %v", err)
	}

	out, err = execute(t, dir, "sessions", "show", id)
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	for _, want := range []string{"> hi there\n", "> again\n", "Hello\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in transcript %q", want, out)
		}
	}

	if _, err := execute(t, dir, "sessions", "rename", id, "Greetings"); err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	out, _ = execute(t, dir, "sessions")
	if !strings.Contains(out, "Greetings (4 messages") {
		t.Errorf("expected renamed chat in %q", out)
	}

	if _, err := execute(t, dir, "sessions", "delete", id); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	out, _ = execute(t, dir, "sessions")
	if strings.Contains(out, id) {
		t.Errorf("deleted chat still listed in %q", out)
	}
}

func TestAskErrors(t *testing.T) {
	dir := configDirFor(t, ollamaServer(t, "unused").URL)

	if _, err := execute(t, dir, "ask"); err == nil {
		t.Error("expected error for empty prompt")
	}

	notImage := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(notImage, []byte("just text"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, dir, "ask", "--image", notImage, "what is this"); err == nil {
		t.Error("expected error for non image attachment")
	}

	if _, err := execute(t, dir, "ask", "--chat", "missing", "hi"); err == nil {
		t.Error("expected error for unknown chat")
	}
	if _, err := execute(t, dir, "ask", "--chat", "x", "--new", "hi"); err == nil {
		t.Error("expected error for --chat with --new")
	}
}

func TestAskEmptyAnswer(t *testing.T) {
	dir := configDirFor(t, ollamaServer(t).URL)

	out, err := execute(t, dir, "ask", "hello?")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if out != "[empty answer]\n" {
		t.Errorf("output = %q, want %q", out, "[empty answer]\n")
	}
}

func TestImagineUnsupported(t *testing.T) {
	dir := configDirFor(t, ollamaServer(t).URL)

	_, err := execute(t, dir, "imagine", "a cat")
	if err == nil || !strings.Contains(err.Error(), "can't generate images") {
		t.Errorf("expected unsupported error, got %v", err)
	}
}

func TestExtension(t *testing.T) {
	tests := map[string]string{
		"image/png":         ".png",
		"image/jpeg":        ".jpg",
		"application/x-foo": ".img",
	}
	for mimeType, want := range tests {
		if got := extension(mimeType); got != want {
			t.Errorf("extension(%q) = %q, want %q", mimeType, got, want)
		}
	}
}
