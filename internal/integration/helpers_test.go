package integration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridsearch/internal/embed"
	"github.com/Aman-CERP/hybridsearch/internal/search"
	"github.com/Aman-CERP/hybridsearch/internal/store"
)

var corpus = map[string]string{
	"ops/backups.md": `# Backups

Nightly backups copy the database to cold storage.

## Restore

Restore a snapshot with the restore command and verify checksums.
`,
	"guides/install.md": `# Install

Download the binary and run the installer.

## Upgrade

Stop the service, replace the binary, start the service.
`,
	"faq.md": `# FAQ

How often do backups run? Every night at midnight.
`,
	"notes.txt": "backups are mentioned here but the file is not Markdown\n",
}

func writeCorpus(t *testing.T, root string) {
	t.Helper()
	for rel, content := range corpus {
		writeFile(t, root, rel, content)
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// openEngine builds an engine over a file-backed SQLite store in dataDir.
func openEngine(t *testing.T, root, dataDir string, storeCfg store.Config) *search.Engine {
	t.Helper()
	storeCfg.Type = store.TypeSQLite
	storeCfg.Path = filepath.Join(dataDir, "index.db")

	cfg := search.DefaultEngineConfig(root)
	cfg.Provider = string(embed.ProviderStatic)
	cfg.Index.DataDir = dataDir

	engine, err := search.NewEngine(store.NewSQLiteStorage(storeCfg), embed.NewStaticEmbedder(64), cfg)
	require.NoError(t, err)
	return engine
}

func paths(results []search.Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Path
	}
	return out
}
