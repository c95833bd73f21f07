package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupProject creates a docs directory, isolates HOME and the user config,
// and selects the offline static embedder.
func setupProject(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("HYBRIDSEARCH_EMBEDDING_PROVIDER", "static")
	t.Setenv("NO_COLOR", "1")

	dir := t.TempDir()
	writeDoc(t, dir, "guide.md", "# Install\n\nRun make install to build the binary.\n\n## Backups\n\nBackups run nightly at midnight.\n")
	writeDoc(t, dir, "ops/faq.md", "# FAQ\n\nQuestions about deployment and rollbacks.\n")
	return dir
}

func writeDoc(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// execute runs the root command with args and returns combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}
