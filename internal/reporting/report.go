package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"wipecert_enterprise/internal/config"
	"wipecert_enterprise/internal/wipe"
)

// Version версия формата отчёта
const Version = "2.0.0"

// Report представляет JSON отчёт о запуске
type Report struct {
	RunID       string                 `json:"run_id"`
	Version     string                 `json:"version"`
	Hostname    string                 `json:"hostname"`
	Timestamp   time.Time              `json:"timestamp"`
	Config      map[string]interface{} `json:"config"`
	Profile     string                 `json:"profile,omitempty"`
	MaxDuration string                 `json:"max_duration,omitempty"`
	Operations  []OperationReport      `json:"operations"`
	Summary     SummaryReport          `json:"summary"`
	ExitCode    int                    `json:"exit_code"`
	Duration    string                 `json:"duration"`
}

// OperationReport представляет отчёт об операции затирания
type OperationReport struct {
	ID                string                    `json:"id"`
	Target            string                    `json:"target"`
	MediaKind         wipe.MediaKind            `json:"media_kind"`
	Pattern           wipe.PatternKind          `json:"pattern"`
	Passes            int                       `json:"passes"`
	PassesCompleted   int                       `json:"passes_completed"`
	CurrentPass       int                       `json:"current_pass"`
	ChunkSize         int                       `json:"chunk_size"`
	Status            wipe.State                `json:"status"`
	StartTime         time.Time                 `json:"start_time"`
	EndTime           *time.Time                `json:"end_time,omitempty"`
	BytesWiped        uint64                    `json:"bytes_wiped"`
	SpeedMBps         float64                   `json:"speed_mbps"`
	Verification      *wipe.VerificationOutcome `json:"verification,omitempty"`
	CertificateSerial string                    `json:"certificate_serial,omitempty"`
	Error             string                    `json:"error,omitempty"`
	Warning           string                    `json:"warning,omitempty"`
}

// SummaryReport представляет сводную информацию
type SummaryReport struct {
	TotalTargets int     `json:"total_targets"`
	Completed    int     `json:"completed"`
	Partial      int     `json:"partial"`
	Cancelled    int     `json:"cancelled"`
	Failed       int     `json:"failed"`
	Certified    int     `json:"certified"`
	TotalBytes   uint64  `json:"total_bytes"`
	AverageSpeed float64 `json:"average_speed_mbps"`
	SuccessRate  float64 `json:"success_rate"`
}

// AggregatedReport представляет агрегированный отчёт по нескольким запускам
type AggregatedReport struct {
	GeneratedAt   time.Time         `json:"generated_at"`
	Reports       []Report          `json:"reports"`
	TotalRuns     int               `json:"total_runs"`
	TotalMachines int               `json:"total_machines"`
	TotalTargets  int               `json:"total_targets"`
	TotalBytes    uint64            `json:"total_bytes"`
	Summary       AggregatedSummary `json:"summary"`
	SuccessRate   float64           `json:"overall_success_rate"`
}

// AggregatedSummary представляет агрегированную сводку
type AggregatedSummary struct {
	Completed  int     `json:"completed"`
	Partial    int     `json:"partial"`
	Cancelled  int     `json:"cancelled"`
	Failed     int     `json:"failed"`
	SuccessPct float64 `json:"success_pct"`
}

// Operation результат задания и, если выдан, серийный номер сертификата
type Operation struct {
	Result  wipe.Result
	Serial  string
	Warning string
}

// GenerateReport генерирует JSON отчёт о запуске
func GenerateReport(operations []Operation, cfg *config.Config, profile string, startTime, endTime time.Time, exitCode int) *Report {
	host, _ := os.Hostname()
	report := &Report{
		RunID:      "run_" + uuid.NewString(),
		Version:    Version,
		Hostname:   host,
		Timestamp:  startTime,
		Config:     configToMap(cfg),
		Profile:    profile,
		Operations: make([]OperationReport, len(operations)),
		ExitCode:   exitCode,
		Duration:   endTime.Sub(startTime).String(),
	}
	if d := cfg.GetMaxDuration(); d > 0 {
		report.MaxDuration = d.String()
	}

	var totalBytes uint64
	var totalSpeed float64
	s := SummaryReport{TotalTargets: len(operations)}

	for i, op := range operations {
		r := op.Result
		opReport := OperationReport{
			ID:                r.JobID,
			Target:            r.TargetID,
			MediaKind:         r.MediaKind,
			Pattern:           r.Pattern,
			Passes:            r.TotalPasses,
			PassesCompleted:   r.PassesCompleted,
			CurrentPass:       r.CurrentPass,
			ChunkSize:         r.ChunkSize,
			Status:            r.FinalState,
			StartTime:         r.StartedAt,
			BytesWiped:        r.BytesWritten,
			SpeedMBps:         r.SpeedMBps(),
			Verification:      r.Verification,
			CertificateSerial: op.Serial,
			Error:             r.ErrorDetail,
			Warning:           op.Warning,
		}
		if !r.EndedAt.IsZero() {
			end := r.EndedAt
			opReport.EndTime = &end
		}
		if opReport.Warning == "" {
			if err := r.VerificationErr(); err != nil {
				opReport.Warning = err.Error()
			}
		}

		switch {
		case r.FinalState == wipe.StateFailed:
			s.Failed++
		case r.FinalState == wipe.StateCancelled:
			s.Cancelled++
		case opReport.Warning != "":
			// завершено, но с расхождениями проверки
			s.Partial++
		case r.FinalState == wipe.StateCompleted:
			s.Completed++
		}
		if op.Serial != "" {
			s.Certified++
		}

		totalBytes += r.BytesWritten
		totalSpeed += opReport.SpeedMBps
		report.Operations[i] = opReport
	}

	s.TotalBytes = totalBytes
	if len(operations) > 0 {
		s.AverageSpeed = totalSpeed / float64(len(operations))
		s.SuccessRate = float64(s.Completed) / float64(len(operations)) * 100
	}
	report.Summary = s

	return report
}

// SaveReport сохраняет отчёт в JSON файл и возвращает путь
func SaveReport(report *Report, cfg *config.Config) (string, error) {
	if !cfg.Reporting.Enabled {
		return "", nil
	}

	// Создаем директорию для отчётов
	if err := os.MkdirAll(cfg.Reporting.LocalPath, 0755); err != nil {
		return "", fmt.Errorf("ошибка создания директории для отчётов: %w", err)
	}

	filename := fmt.Sprintf("wipecert_report_%s_%s.json", report.Timestamp.Format("20060102_150405"), report.RunID)
	path := filepath.Join(cfg.Reporting.LocalPath, filename)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации отчёта: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("ошибка записи отчёта: %w", err)
	}

	return path, nil
}

// LoadReport читает сохранённый отчёт
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения отчёта: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("ошибка разбора отчёта %s: %w", path, err)
	}
	return &r, nil
}

// AggregateReports агрегирует несколько отчётов в один
func AggregateReports(reports []Report) *AggregatedReport {
	agg := &AggregatedReport{
		GeneratedAt: time.Now(),
		Reports:     reports,
		TotalRuns:   len(reports),
	}

	machines := make(map[string]bool)
	var sum AggregatedSummary

	for _, report := range reports {
		agg.TotalTargets += report.Summary.TotalTargets
		agg.TotalBytes += report.Summary.TotalBytes
		machines[report.Hostname] = true

		sum.Completed += report.Summary.Completed
		sum.Partial += report.Summary.Partial
		sum.Cancelled += report.Summary.Cancelled
		sum.Failed += report.Summary.Failed
	}

	agg.TotalMachines = len(machines)
	if total := sum.Completed + sum.Partial + sum.Cancelled + sum.Failed; total > 0 {
		sum.SuccessPct = float64(sum.Completed) / float64(total) * 100
	}
	agg.Summary = sum
	agg.SuccessRate = sum.SuccessPct

	return agg
}

// configToMap преобразует Config в map для JSON сериализации
func configToMap(cfg *config.Config) map[string]interface{} {
	return map[string]interface{}{
		"security": map[string]interface{}{
			"require_confirmation": cfg.Security.RequireConfirmation,
			"allow_unknown_media":  cfg.Security.AllowUnknownMedia,
			"excluded_targets":     cfg.Security.ExcludedTargets,
			"protected_paths":      cfg.Security.ProtectedPaths,
		},
		"wipe": map[string]interface{}{
			"default_pattern": cfg.Wipe.DefaultPattern,
			"chunk_size":      cfg.Wipe.ChunkSize,
			"max_attempts":    cfg.Wipe.MaxAttempts,
			"retry_backoff":   cfg.Wipe.RetryBackoff.String(),
			"max_speed_mbps":  cfg.Wipe.MaxSpeedMBps,
			"max_duration":    cfg.Wipe.MaxDuration,
			"auto_certify":    cfg.Wipe.AutoCertify,
		},
		"verify": map[string]interface{}{
			"sample_ratio": cfg.Verify.SampleRatio,
			"min_blocks":   cfg.Verify.MinBlocks,
		},
		// путь к хранилищу ключа и пароль в отчёт не попадают
		"keys": map[string]interface{}{
			"bits":         cfg.Keys.Bits,
			"organization": cfg.Keys.Organization,
			"operator":     cfg.Keys.Operator,
		},
		"ledger": map[string]interface{}{
			"enabled": cfg.Ledger.Enabled,
		},
		"logging": map[string]interface{}{
			"level":      cfg.Logging.Level,
			"structured": cfg.Logging.Structured,
		},
	}
}
