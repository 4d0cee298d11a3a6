package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"wipecert_enterprise/internal/certificate"
	"wipecert_enterprise/internal/keys"
	"wipecert_enterprise/internal/security"
	"wipecert_enterprise/internal/system"
	"wipecert_enterprise/internal/wipe"
)

// DiagnosticLevel определяет уровень диагностики
type DiagnosticLevel string

const (
	LevelQuick DiagnosticLevel = "quick"
	LevelFull  DiagnosticLevel = "full"
	LevelDeep  DiagnosticLevel = "deep"
)

// DiagnosticTest определяет тип теста
type DiagnosticTest string

const (
	TestPermissions DiagnosticTest = "permissions"
	TestDisks       DiagnosticTest = "disks"
	TestPaths       DiagnosticTest = "paths"
	TestKeys        DiagnosticTest = "keys"
	TestLedger      DiagnosticTest = "ledger"
	TestWipe        DiagnosticTest = "wipe"
)

// DiagnosticResult содержит результат теста
type DiagnosticResult struct {
	Test      DiagnosticTest `json:"test"`
	Status    string         `json:"status"` // PASS, FAIL, WARN
	Message   string         `json:"message"`
	Details   interface{}    `json:"details,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Timestamp time.Time      `json:"timestamp"`
}

// Diagnostics содержит полную диагностику
type Diagnostics struct {
	Level     DiagnosticLevel    `json:"level"`
	StartTime time.Time          `json:"start_time"`
	EndTime   time.Time          `json:"end_time"`
	Duration  time.Duration      `json:"duration"`
	Overall   string             `json:"overall"` // HEALTHY, WARNING, CRITICAL
	Results   []DiagnosticResult `json:"results"`
	Summary   DiagnosticSummary  `json:"summary"`
	OS        string             `json:"os"`
	Arch      string             `json:"arch"`
}

// DiagnosticSummary содержит сводку результатов
type DiagnosticSummary struct {
	TotalTests int `json:"total_tests"`
	Passed     int `json:"passed"`
	Failed     int `json:"failed"`
	Warnings   int `json:"warnings"`
}

// RunDiagnostics выполняет самодиагностику; test, если задан, выбирает один тест
func (s *Service) RunDiagnostics(ctx context.Context, level DiagnosticLevel, test DiagnosticTest) (*Diagnostics, error) {
	d := &Diagnostics{
		Level:     level,
		StartTime: s.now(),
		Results:   make([]DiagnosticResult, 0),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}

	for _, t := range testsForLevel(level, test) {
		select {
		case <-ctx.Done():
			return d, ctx.Err()
		default:
		}
		d.Results = append(d.Results, s.runTest(ctx, t))
	}

	d.EndTime = s.now()
	d.Duration = d.EndTime.Sub(d.StartTime)
	d.Summary = summarize(d.Results)
	d.Overall = overallStatus(d.Summary)
	return d, nil
}

func testsForLevel(level DiagnosticLevel, test DiagnosticTest) []DiagnosticTest {
	if test != "" {
		return []DiagnosticTest{test}
	}
	switch level {
	case LevelFull:
		return []DiagnosticTest{TestPermissions, TestDisks, TestPaths, TestKeys, TestLedger}
	case LevelDeep:
		return []DiagnosticTest{TestPermissions, TestDisks, TestPaths, TestKeys, TestLedger, TestWipe}
	default:
		return []DiagnosticTest{TestPermissions, TestDisks, TestPaths}
	}
}

func (s *Service) runTest(ctx context.Context, test DiagnosticTest) DiagnosticResult {
	start := time.Now()
	result := DiagnosticResult{Test: test, Timestamp: s.now()}

	switch test {
	case TestPermissions:
		result.Status, result.Message, result.Details = s.testPermissions()
	case TestDisks:
		result.Status, result.Message, result.Details = s.testDisks(ctx)
	case TestPaths:
		result.Status, result.Message, result.Details = s.testPaths()
	case TestKeys:
		result.Status, result.Message, result.Details = s.testKeys()
	case TestLedger:
		result.Status, result.Message, result.Details = s.testLedger(ctx)
	case TestWipe:
		result.Status, result.Message, result.Details = s.testWipe(ctx)
	default:
		result.Status, result.Message = "FAIL", fmt.Sprintf("неизвестный тест: %s", test)
	}

	result.Duration = time.Since(start)
	s.logger.Log("DEBUG", "Диагностика", "test", result.Test, "status", result.Status, "message", result.Message)
	return result
}

func (s *Service) testPermissions() (string, string, interface{}) {
	isAdmin := security.IsAdmin()
	details := map[string]interface{}{"is_admin": isAdmin, "euid": os.Geteuid()}
	if isAdmin {
		return "PASS", "Процесс запущен с правами root", details
	}
	return "WARN", "Нет прав root: затирание блочных устройств недоступно", details
}

func (s *Service) testDisks(ctx context.Context) (string, string, interface{}) {
	targets, err := s.Targets(ctx)
	if err != nil {
		return "WARN", fmt.Sprintf("Ошибка перечисления устройств: %v", err), nil
	}

	details := make([]map[string]interface{}, len(targets))
	status := "PASS"
	for i, t := range targets {
		d := map[string]interface{}{
			"id":        t.ID,
			"kind":      t.Kind,
			"size_gb":   float64(t.Size) / (1024 * 1024 * 1024),
			"is_system": t.IsSystem,
			"writable":  t.Writable,
		}
		// Размер по ioctl сверяется с sysfs, если устройство доступно на чтение
		if n, err := system.BlockDeviceSize(t.Path); err == nil {
			d["ioctl_size"] = n
			if n != t.Size {
				status = "WARN"
			}
		}
		details[i] = d
	}
	if status == "WARN" {
		return status, "Размер устройства по ioctl отличается от sysfs", details
	}
	return "PASS", fmt.Sprintf("Найдено %d устройств", len(targets)), details
}

func (s *Service) testPaths() (string, string, interface{}) {
	paths := map[string]string{
		"keystore": filepath.Dir(s.cfg.Keys.KeystorePath),
		"reports":  s.cfg.Reporting.LocalPath,
	}
	if s.cfg.Ledger.Enabled {
		paths["ledger"] = filepath.Dir(s.cfg.Ledger.Path)
	}

	details := make(map[string]interface{}, len(paths))
	ok := true
	for name, dir := range paths {
		writable := dirWritable(dir)
		details[name] = map[string]interface{}{"path": dir, "writable": writable}
		ok = ok && writable
	}
	if ok {
		return "PASS", "Все рабочие каталоги доступны на запись", details
	}
	return "WARN", "Некоторые рабочие каталоги недоступны на запись", details
}

func dirWritable(dir string) bool {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".wipecert_probe_*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}

func (s *Service) testKeys() (string, string, interface{}) {
	path := s.cfg.Keys.KeystorePath
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "WARN", "Хранилище ключа отсутствует: ключ будет создан при первой сертификации", map[string]interface{}{"path": path}
	}
	probe := keys.NewManager()
	pub, err := probe.Load(path, s.cfg.Passphrase())
	if err != nil {
		return "FAIL", fmt.Sprintf("Ошибка загрузки ключа: %v", err), map[string]interface{}{"path": path}
	}
	return "PASS", "Ключ эмитента загружен", map[string]interface{}{
		"fingerprint": pub.Fingerprint,
		"bits":        pub.Key.N.BitLen(),
	}
}

func (s *Service) testLedger(ctx context.Context) (string, string, interface{}) {
	if s.ledger == nil {
		return "WARN", "Журнал сертификатов выключен", nil
	}
	certs, err := s.ledger.ListCertificates(ctx, "")
	if err != nil {
		return "FAIL", fmt.Sprintf("Ошибка чтения журнала: %v", err), nil
	}
	return "PASS", fmt.Sprintf("Журнал доступен, сертификатов: %d", len(certs)), map[string]interface{}{"certificates": len(certs)}
}

// testWipe затирает временный файл и проверяет сертификат эфемерным ключом
func (s *Service) testWipe(ctx context.Context) (string, string, interface{}) {
	const size = 256 * 1024
	details := map[string]interface{}{"size": size, "pattern": wipe.PatternDod3Pass}

	f, err := os.CreateTemp("", "wipecert_selftest_*.bin")
	if err != nil {
		return "FAIL", fmt.Sprintf("Ошибка создания тестового файла: %v", err), details
	}
	path := f.Name()
	defer os.Remove(path)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return "FAIL", fmt.Sprintf("Ошибка записи в тестовый файл: %v", err), details
	}
	f.Close()

	target, err := system.FileTarget(path)
	if err != nil {
		return "FAIL", err.Error(), details
	}
	res, err := s.orch.Run(ctx, wipe.Request{Target: target, Pattern: wipe.Pattern{Kind: wipe.PatternDod3Pass}})
	if err != nil {
		return "FAIL", fmt.Sprintf("Тестовое затирание не удалось: %v", err), details
	}
	details["bytes_written"] = res.BytesWritten
	if err := res.VerificationErr(); err != nil {
		return "FAIL", err.Error(), details
	}

	km := keys.NewManager()
	pub, err := km.Generate(keys.MinBits)
	if err != nil {
		return "FAIL", fmt.Sprintf("Ошибка генерации ключа: %v", err), details
	}
	cert, err := certificate.NewIssuer(km).Issue(res)
	if err != nil {
		return "FAIL", fmt.Sprintf("Ошибка выпуска сертификата: %v", err), details
	}
	if st := certificate.Verify(cert, pub.Key); st != certificate.Valid {
		return "FAIL", fmt.Sprintf("Проверка сертификата: %s", st), details
	}

	return "PASS", "Тест затирания и сертификации пройден успешно", details
}

func summarize(results []DiagnosticResult) DiagnosticSummary {
	summary := DiagnosticSummary{TotalTests: len(results)}
	for _, result := range results {
		switch result.Status {
		case "PASS":
			summary.Passed++
		case "FAIL":
			summary.Failed++
		case "WARN":
			summary.Warnings++
		}
	}
	return summary
}

func overallStatus(summary DiagnosticSummary) string {
	if summary.Failed > 0 {
		return "CRITICAL"
	}
	if summary.Warnings > 0 {
		return "WARNING"
	}
	return "HEALTHY"
}

// SaveDiagnostics сохраняет диагностику в файл
func SaveDiagnostics(d *Diagnostics, outputPath string) error {
	if outputPath == "" {
		outputPath = filepath.Join(os.TempDir(), fmt.Sprintf("wipecert_diagnostics_%s.json", d.StartTime.Format("20060102_150405")))
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации JSON: %w", err)
	}

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("ошибка сохранения файла: %w", err)
	}

	return nil
}
