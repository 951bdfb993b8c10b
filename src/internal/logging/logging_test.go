package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritesTimestampedLines(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(dir, 100)
	require.NoError(t, err)
	defer logger.Close()

	logger.Info("START backup %s/%s", "octo", "widgets")
	logger.Error("something broke")

	data, err := os.ReadFile(filepath.Join(dir, "backup.log"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INFO START backup octo/widgets")
	assert.Contains(t, lines[1], "ERROR something broke")
}

func TestRotatesOversizedLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.log")

	// Write just over 1MB so a 1MB cap triggers rotation on open.
	big := strings.Repeat("x", 1024*1024+1)
	require.NoError(t, os.WriteFile(path, []byte(big), 0o644))

	logger, err := New(dir, 1)
	require.NoError(t, err)
	defer logger.Close()

	old, err := os.ReadFile(path + ".old")
	require.NoError(t, err)
	assert.Len(t, old, len(big))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestConcurrentWritersProduceWholeLines(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(dir, 100)
	require.NoError(t, err)
	defer logger.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				logger.Info("worker line payload payload payload")
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(filepath.Join(dir, "backup.log"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 200)
	for _, line := range lines {
		assert.Contains(t, line, "INFO worker line payload payload payload")
	}
}
