package reporting

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"wipecert_enterprise/internal/certificate"
)

// VerificationReport итог пакетной проверки сертификатов
type VerificationReport struct {
	Metadata VerificationMetadata `json:"metadata"`
	Entries  []VerificationEntry  `json:"entries"`
	Summary  VerificationSummary  `json:"summary"`
}

// VerificationMetadata метаданные проверки
type VerificationMetadata struct {
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Hostname  string    `json:"hostname"`
	Operator  string    `json:"operator,omitempty"`
	Purpose   string    `json:"purpose,omitempty"`
}

// VerificationEntry результат проверки одного файла сертификата
type VerificationEntry struct {
	File              string `json:"file"`
	Serial            string `json:"serial,omitempty"`
	Target            string `json:"target,omitempty"`
	Pattern           string `json:"pattern,omitempty"`
	IssuerFingerprint string `json:"issuer_fingerprint,omitempty"`
	Status            string `json:"status"` // VALID, TAMPERED, SIGNATURE_INVALID, ERROR
	Reason            string `json:"reason,omitempty"`
}

// VerificationSummary сводка по статусам
type VerificationSummary struct {
	Total            int `json:"total"`
	Valid            int `json:"valid"`
	Tampered         int `json:"tampered"`
	SignatureInvalid int `json:"signature_invalid"`
	Errors           int `json:"errors"`
}

// StatusError файл не удалось разобрать или для него нет ключа
const StatusError = "ERROR"

// NewVerificationReport пустой отчёт проверки
func NewVerificationReport(operator, purpose string, now time.Time) *VerificationReport {
	host, _ := os.Hostname()
	return &VerificationReport{
		Metadata: VerificationMetadata{
			RunID:     "verify_" + uuid.NewString(),
			Timestamp: now,
			Hostname:  host,
			Operator:  operator,
			Purpose:   purpose,
		},
		Entries: make([]VerificationEntry, 0),
	}
}

// Add добавляет результат проверки. cert может быть nil, если файл не разобран.
func (r *VerificationReport) Add(file string, cert *certificate.Certificate, verdict *certificate.Verdict, err error) {
	e := VerificationEntry{File: file}
	if cert != nil {
		e.Serial = cert.Serial
		e.Target = cert.Result.TargetID
		e.Pattern = string(cert.Result.Pattern)
		e.IssuerFingerprint = cert.IssuerFingerprint
	}

	switch {
	case err != nil:
		e.Status = StatusError
		e.Reason = err.Error()
		r.Summary.Errors++
	case verdict == nil:
		e.Status = StatusError
		e.Reason = "нет результата проверки"
		r.Summary.Errors++
	default:
		e.Status = verdict.Status.String()
		e.Reason = verdict.Reason
		switch verdict.Status {
		case certificate.Valid:
			r.Summary.Valid++
		case certificate.Tampered:
			r.Summary.Tampered++
		default:
			r.Summary.SignatureInvalid++
		}
	}
	r.Summary.Total++
	r.Entries = append(r.Entries, e)
}

// AllValid все сертификаты прошли проверку
func (r *VerificationReport) AllValid() bool {
	return r.Summary.Total > 0 && r.Summary.Valid == r.Summary.Total
}

// SaveVerificationReport сохраняет отчёт в json или csv; пустой путь даёт
// файл во временном каталоге. Возвращает путь.
func SaveVerificationReport(report *VerificationReport, format, outputPath string) (string, error) {
	format = strings.ToLower(format)
	if outputPath == "" {
		timestamp := report.Metadata.Timestamp.Format("20060102_150405")
		outputPath = filepath.Join(os.TempDir(), fmt.Sprintf("wipecert_verification_%s.%s", timestamp, format))
	}

	var err error
	switch format {
	case "json":
		err = saveVerificationReportJSON(report, outputPath)
	case "csv":
		err = saveVerificationReportCSV(report, outputPath)
	default:
		return "", fmt.Errorf("неподдерживаемый формат: %s", format)
	}
	if err != nil {
		return "", err
	}
	return outputPath, nil
}

func saveVerificationReportJSON(report *VerificationReport, outputPath string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации JSON: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("ошибка сохранения файла: %w", err)
	}
	return nil
}

// saveVerificationReportCSV одна строка на сертификат, метаданные в комментариях
func saveVerificationReportCSV(report *VerificationReport, outputPath string) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("ошибка сохранения CSV файла: %w", err)
	}
	defer f.Close()

	fmt.Fprintf(f, "# WipeCert Verification Report\n# Run ID: %s\n# Generated: %s\n# Host: %s\n",
		report.Metadata.RunID, report.Metadata.Timestamp.Format(time.RFC3339), report.Metadata.Hostname)
	fmt.Fprintf(f, "# Valid: %d/%d, Tampered: %d, Signature invalid: %d, Errors: %d\n",
		report.Summary.Valid, report.Summary.Total, report.Summary.Tampered,
		report.Summary.SignatureInvalid, report.Summary.Errors)

	w := csv.NewWriter(f)
	_ = w.Write([]string{"file", "serial", "target", "pattern", "issuer_fingerprint", "status", "reason"})
	for _, e := range report.Entries {
		_ = w.Write([]string{e.File, e.Serial, e.Target, e.Pattern, e.IssuerFingerprint, e.Status, e.Reason})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("ошибка сохранения CSV файла: %w", err)
	}
	return f.Close()
}
