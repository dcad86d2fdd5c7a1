package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportDirSave(t *testing.T) {
	dir, err := NewExportDir(filepath.Join(t.TempDir(), "exports"))
	require.NoError(t, err)

	path, err := dir.Save("room-audit-20240601.csv", []byte("Timestamp\n"))
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Timestamp\n", string(data))
}

func TestExportDirRejectsEscapingNames(t *testing.T) {
	dir, err := NewExportDir(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "../secret.csv", "/etc/passwd"} {
		_, err := dir.Save(name, []byte("x"))
		assert.Error(t, err, name)
	}
}
