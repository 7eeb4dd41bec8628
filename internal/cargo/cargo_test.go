package cargo

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeRelativeStripsDotDot(t *testing.T) {
	tests := map[string]string{
		"../../etc/passwd": "etc/passwd",
		"plugins/foo.jar":  "plugins/foo.jar",
		"/abs/path":        "abs/path",
		"a/../../b":        "b",
	}
	for in, want := range tests {
		if got := safeRelative(in); got != want {
			t.Errorf("safeRelative(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFetchDownloadsAndAppliesReadonly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plugin bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := New(nil)

	dest, err := f.Fetch(t.Context(), dir, Entry{
		URL:        srv.URL,
		TargetPath: "plugins/foo.jar",
		Readonly:   true,
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "plugins", "foo.jar"), dest)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "plugin bytes", string(data))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o444), info.Mode().Perm())
}

func TestFetchRejectsPathEscape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := New(nil)

	dest, err := f.Fetch(t.Context(), dir, Entry{URL: srv.URL, TargetPath: "../../../etc/passwd"})
	require.NoError(t, err)
	require.True(t, filepathHasPrefix(dest, dir), "dest %s escaped volume dir %s", dest, dir)
}

func filepathHasPrefix(path, prefix string) bool {
	rel, err := filepath.Rel(prefix, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
