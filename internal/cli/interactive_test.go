package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wipecert_enterprise/internal/app"
	"wipecert_enterprise/internal/config"
	"wipecert_enterprise/internal/system"
)

func interactiveService(t *testing.T) (*app.Service, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.bin")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0x5A}, 16*1024), 0600))
	target, err := system.FileTarget(path)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Ledger.Enabled = false
	cfg.Reporting.Enabled = false
	cfg.Keys.KeystorePath = filepath.Join(dir, "keys", "issuer.pem")
	return app.New(cfg, nil, app.Dependencies{Lister: system.StaticLister{target}}), path
}

func TestInteractiveWipe(t *testing.T) {
	svc, path := interactiveService(t)
	var out bytes.Buffer
	// список целей, затирание цели 1 методом 1 (zero_fill), подтверждение, выход
	input := "1\n2\n1\n1\ny\n6\n"
	menu := NewInteractiveMenu(svc, NewConsole(&out, strings.NewReader(input)), false, true)

	require.NoError(t, menu.Run(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 16*1024), data)

	text := out.String()
	assert.Contains(t, text, "Доступные цели затирания")
	assert.Contains(t, text, "zero_fill")
	assert.Contains(t, text, "completed")
	assert.Contains(t, text, "Программа завершена")
}

func TestInteractiveDeclineAndEOF(t *testing.T) {
	svc, path := interactiveService(t)
	var out bytes.Buffer
	// отказ от подтверждения, затем ввод заканчивается
	menu := NewInteractiveMenu(svc, NewConsole(&out, strings.NewReader("2\n1\n\nn\n")), false, true)

	require.NoError(t, menu.Run(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x5A}, 16*1024), data)
	assert.Contains(t, out.String(), "Отменено")
}

func TestInteractiveErrorsDoNotExit(t *testing.T) {
	svc, _ := interactiveService(t)
	var out bytes.Buffer
	// неверный номер цели, проверка несуществующего файла, журнал выключен
	input := "2\n9\n3\n/nonexistent/cert.json\n4\n6\n"
	menu := NewInteractiveMenu(svc, NewConsole(&out, strings.NewReader(input)), false, true)

	require.NoError(t, menu.Run(context.Background()))
	assert.Equal(t, 3, strings.Count(out.String(), "❌ Ошибка"))
}

func TestInteractiveCancelled(t *testing.T) {
	svc, _ := interactiveService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	menu := NewInteractiveMenu(svc, NewConsole(&out, strings.NewReader("1\n")), false, true)
	require.NoError(t, menu.Run(ctx))
	assert.NotContains(t, out.String(), "Выберите опцию")
}
