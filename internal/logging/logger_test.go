package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wipecert_enterprise/internal/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "WARN")

	l.Log("DEBUG", "скрыто")
	l.Log("INFO", "скрыто")
	l.Log("WARN", "повтор записи", "offset", 4096, "attempt", 2)
	l.Log("ERROR", "ошибка ввода-вывода", "target", "blk:sda")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "повтор записи", lines[0]["message"])
	assert.Equal(t, float64(4096), lines[0]["offset"])
	assert.Equal(t, "error", lines[1]["level"])
	assert.Equal(t, "blk:sda", lines[1]["target"])
	assert.Contains(t, lines[1], "time")
}

func TestOddFieldsAreKept(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "DEBUG").Log("info", "нечётные поля", "job", "wipe_1", "dangling")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "wipe_1", lines[0]["job"])
	assert.Equal(t, "<missing>", lines[0]["dangling"])
}

func TestNopWritesNothing(t *testing.T) {
	l := Nop()
	l.Log("ERROR", "никуда")
	assert.NoError(t, l.Close())
}

func TestEnterpriseLoggerFileSink(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.File = filepath.Join(t.TempDir(), "logs", "wipecert.log")
	cfg.Logging.Level = "DEBUG"

	l, err := NewEnterpriseLogger(cfg, false)
	require.NoError(t, err)
	l.Log("DEBUG", "задание запущено", "job", "wipe_1")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(cfg.Logging.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"job":"wipe_1"`)
	assert.Contains(t, string(data), "задание запущено")
}
