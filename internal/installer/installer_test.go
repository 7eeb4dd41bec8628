package installer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateScriptShape(t *testing.T) {
	script := generateScript(
		map[string]string{"SERVER_JAR": "paper.jar", "MEMORY": "1024"},
		"echo installing\nexit 0",
		"/mnt/server/.installation/logs/install.log",
	)

	require.True(t, strings.HasPrefix(script, "#!/bin/bash\n"))
	require.Contains(t, script, "set -e\n")
	require.Contains(t, script, "exec 1> >(tee -a /mnt/server/.installation/logs/install.log)\n")
	require.Contains(t, script, "exec 2>&1\n")
	require.Contains(t, script, `trap 'echo "Error on line $LINENO" >> /mnt/server/.installation/logs/install.log' ERR`)
	require.Contains(t, script, "echo installing\nexit 0")
	require.True(t, strings.HasSuffix(script, "\nexit $?\n"))

	// exports are emitted in sorted order so reruns produce identical scripts
	memIdx := strings.Index(script, "export MEMORY=")
	jarIdx := strings.Index(script, "export SERVER_JAR=")
	require.Greater(t, memIdx, 0)
	require.Greater(t, jarIdx, memIdx)
}

func TestGenerateScriptQuotesValues(t *testing.T) {
	script := generateScript(
		map[string]string{"MOTD": `A "fancy" server; isn't it`},
		"true",
		"/mnt/server/.installation/logs/install.log",
	)
	require.Contains(t, script, `export MOTD='A "fancy" server; isn'\''t it'`)
}

func TestShellQuote(t *testing.T) {
	tests := map[string]string{
		"plain":       "'plain'",
		"with space":  "'with space'",
		`dou"ble`:     `'dou"ble'`,
		"it's":        `'it'\''s'`,
		"$HOME `cmd`": "'$HOME `cmd`'",
		"":            "''",
	}
	for in, want := range tests {
		require.Equal(t, want, shellQuote(in), "input %q", in)
	}
}
