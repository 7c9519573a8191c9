package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	scanerrors "scanpilot/pkg/errors"
	"scanpilot/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogYAML = `
tools:
  - name: Nmap
    command: nmap
    args: ["-sV", "-F", "{{target}}"]
    timeout_seconds: 30
  - name: Nikto
    command: nikto
    args: ["-h", "{{url}}"]
`

func writeCatalog(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefinitionBuildArgs(t *testing.T) {
	def := Definition{Name: "Nikto", Command: "nikto", Args: []string{"-h", "{{url}}", "--host={{target}}"}}

	assert.Equal(t, []string{"-h", "http://example.com", "--host=example.com"}, def.BuildArgs("example.com"))
	assert.Equal(t, []string{"-h", "https://example.com", "--host=https://example.com"}, def.BuildArgs("https://example.com"))
	assert.Equal(t, DefaultTimeout, def.Timeout())
}

func TestCatalogResolve(t *testing.T) {
	catalog := DefaultCatalog()

	tests := []struct {
		name     string
		request  []string
		expected []string
		err      error
	}{
		{name: "request order kept", request: []string{"Nikto", "Nmap"}, expected: []string{"Nikto", "Nmap"}},
		{name: "case insensitive", request: []string{"nmap", "OPENVAS"}, expected: []string{"Nmap", "OpenVAS"}},
		{name: "duplicates dropped", request: []string{"Nmap", "nuclei", "NMAP"}, expected: []string{"Nmap", "Nuclei"}},
		{name: "unknown tool", request: []string{"Nmap", "Burp"}, err: scanerrors.ErrUnknownTool},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defs, err := catalog.Resolve(tt.request)
			if tt.err != nil {
				assert.True(t, errors.Is(err, tt.err), "expected %v, got %v", tt.err, err)
				return
			}
			require.NoError(t, err)
			names := make([]string, len(defs))
			for i, d := range defs {
				names[i] = d.Name
			}
			assert.Equal(t, tt.expected, names)
		})
	}
}

func TestCatalogReturnsCopies(t *testing.T) {
	catalog := DefaultCatalog()

	def, ok := catalog.Lookup("nmap")
	require.True(t, ok)
	def.Args[0] = "--mutated"

	again, _ := catalog.Lookup("Nmap")
	assert.Equal(t, "-sV", again.Args[0])
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	_, err := NewCatalog([]Definition{
		{Name: "Nmap", Command: "nmap"},
		{Name: "nmap", Command: "nmap"},
	})
	assert.True(t, errors.Is(err, scanerrors.ErrInvalidConfig))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	defs, err := LoadFile(writeCatalog(t, dir, catalogYAML))
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, 30*time.Second, defs[0].Timeout())
	assert.Equal(t, DefaultTimeout, defs[1].Timeout())

	_, err = LoadFile(writeCatalog(t, dir, "tools:\n  - name: Broken\n"))
	assert.True(t, errors.Is(err, scanerrors.ErrInvalidConfig))

	_, err = LoadFile(writeCatalog(t, dir, "tools: ["))
	assert.Error(t, err)
}

func TestWatcherReloadsCatalog(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, catalogYAML)

	defs, err := LoadFile(path)
	require.NoError(t, err)
	catalog, err := NewCatalog(defs)
	require.NoError(t, err)

	var reloads atomic.Int32
	w := NewWatcher(path, catalog, logger.Discard())
	w.interval = 50 * time.Millisecond
	w.OnReload(func(int, error) { reloads.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Watch(ctx)
	}()

	updated := catalogYAML + `  - name: Nuclei
    command: nuclei
    args: ["-u", "{{url}}"]
`
	require.Eventually(t, func() bool {
		if _, ok := catalog.Lookup("Nuclei"); ok {
			return true
		}
		os.WriteFile(path, []byte(updated), 0o644)
		return false
	}, 5*time.Second, 100*time.Millisecond)

	// a broken file keeps the last good catalog
	before := reloads.Load()
	require.NoError(t, os.WriteFile(path, []byte("tools: ["), 0o644))
	require.Eventually(t, func() bool { return reloads.Load() > before }, 5*time.Second, 50*time.Millisecond)
	_, ok := catalog.Lookup("Nuclei")
	assert.True(t, ok)

	cancel()
	<-done
}
