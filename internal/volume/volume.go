// Package volume computes the host-side paths backing a server's data.
package volume

import (
	"path/filepath"
	"strings"
)

// Sanitize maps every character outside [A-Za-z0-9._-] to '_'. Idempotent:
// Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Dir returns the host directory for a server's volume.
func Dir(volumesDir, serverID string) string {
	return filepath.Join(volumesDir, Sanitize(serverID))
}

// InstallationDir returns the workspace used by the installer, inside the
// server's volume.
func InstallationDir(volumesDir, serverID string) string {
	return filepath.Join(Dir(volumesDir, serverID), ".installation")
}
