package reporting

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"wipecert_enterprise/internal/certificate"
	"wipecert_enterprise/internal/keys"
)

//go:embed certificate.schema.json
var certificateSchemaJSON string

const certificateSchemaURL = "https://wipecert.local/schemas/certificate.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func certificateSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		c.AssertFormat = true
		if err := c.AddResource(certificateSchemaURL, strings.NewReader(certificateSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("certificate schema load failed: %w", err)
			return
		}
		schema, schemaErr = c.Compile(certificateSchemaURL)
	})
	return schema, schemaErr
}

// SaveCertificate сохраняет документ сертификата в JSON
func SaveCertificate(cert *certificate.Certificate, path string) error {
	data, err := json.MarshalIndent(cert, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации сертификата: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("ошибка создания директории: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("ошибка сохранения сертификата: %w", err)
	}
	return nil
}

// CertificatePath имя файла сертификата в каталоге отчётов
func CertificatePath(dir string, cert *certificate.Certificate) string {
	return filepath.Join(dir, fmt.Sprintf("wipecert_%s.json", cert.Serial))
}

// ParseCertificate разбирает документ сертификата после проверки по схеме.
// Подпись не проверяется: это делает certificate.Verify.
func ParseCertificate(data []byte) (*certificate.Certificate, error) {
	s, err := certificateSchema()
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("ошибка разбора сертификата: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return nil, fmt.Errorf("документ не соответствует схеме сертификата: %w", err)
	}

	var cert certificate.Certificate
	if err := json.Unmarshal(data, &cert); err != nil {
		return nil, fmt.Errorf("ошибка разбора сертификата: %w", err)
	}
	return &cert, nil
}

// LoadCertificate читает и проверяет по схеме файл сертификата
func LoadCertificate(path string) (*certificate.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения сертификата: %w", err)
	}
	return ParseCertificate(data)
}

// SavePublicKey экспортирует публичный ключ эмитента в PEM
func SavePublicKey(pub keys.PublicKey, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("ошибка создания директории: %w", err)
	}
	return os.WriteFile(path, pub.PEM, 0644)
}

// LoadPublicKey читает PEM публичного ключа
func LoadPublicKey(path string) (keys.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return keys.PublicKey{}, fmt.Errorf("ошибка чтения ключа: %w", err)
	}
	return keys.ParsePublicKeyPEM(data)
}

// RenderCertificateText человекочитаемая сводка сертификата
func RenderCertificateText(cert *certificate.Certificate, verdict *certificate.Verdict) string {
	var content strings.Builder
	r := cert.Result

	content.WriteString("СЕРТИФИКАТ ЗАТИРАНИЯ ДАННЫХ\n")
	content.WriteString(strings.Repeat("=", 60) + "\n")
	content.WriteString(fmt.Sprintf("Серийный номер: %s\n", cert.Serial))
	content.WriteString(fmt.Sprintf("Подписан: %s\n", cert.SignedAt.Format(time.RFC3339)))
	content.WriteString(fmt.Sprintf("Ключ эмитента: %s\n", cert.IssuerFingerprint))
	if cert.Organization != "" {
		content.WriteString(fmt.Sprintf("Организация: %s\n", cert.Organization))
	}
	if cert.Operator != "" {
		content.WriteString(fmt.Sprintf("Оператор: %s\n", cert.Operator))
	}
	content.WriteString("\n")

	content.WriteString("ЦЕЛЬ\n")
	content.WriteString(strings.Repeat("-", 50) + "\n")
	content.WriteString(fmt.Sprintf("Идентификатор: %s\n", r.TargetID))
	content.WriteString(fmt.Sprintf("Путь: %s\n", r.TargetPath))
	content.WriteString(fmt.Sprintf("Тип носителя: %s\n", r.MediaKind))
	if r.Model != "" || r.Serial != "" {
		content.WriteString(fmt.Sprintf("Модель/серийный: %s / %s\n", r.Model, r.Serial))
	}
	content.WriteString(fmt.Sprintf("Размер: %s\n", formatBytes(r.TotalBytes)))
	content.WriteString("\n")

	content.WriteString("ОПЕРАЦИЯ\n")
	content.WriteString(strings.Repeat("-", 50) + "\n")
	content.WriteString(fmt.Sprintf("Метод: %s\n", r.Pattern))
	content.WriteString(fmt.Sprintf("Проходы: %d/%d\n", r.PassesCompleted, r.TotalPasses))
	content.WriteString(fmt.Sprintf("Записано: %s\n", formatBytes(r.BytesWritten)))
	content.WriteString(fmt.Sprintf("Начало: %s\n", r.StartedAt.Format("2006-01-02 15:04:05")))
	content.WriteString(fmt.Sprintf("Окончание: %s\n", r.EndedAt.Format("2006-01-02 15:04:05")))
	content.WriteString(fmt.Sprintf("Скорость: %.2f MB/s\n", r.SpeedMBps()))
	if r.SecureEraseHint {
		content.WriteString("Рекомендация: выполнить ATA/NVMe Secure Erase средствами прошивки\n")
	}
	if v := r.Verification; v != nil {
		status := "ПРОЙДЕНА"
		if !v.Passed() {
			status = "РАСХОЖДЕНИЯ"
		}
		content.WriteString(fmt.Sprintf("Проверка: %s (%d/%d блоков, доля %.2f%%)\n",
			status, v.SampledBlocks-v.MismatchedBlocks, v.SampledBlocks, v.SampleRatio*100))
	}
	content.WriteString("\n")

	if verdict != nil {
		content.WriteString(fmt.Sprintf("Статус подписи: %s\n", verdict.Status))
		if verdict.Reason != "" {
			content.WriteString(fmt.Sprintf("  %s\n", verdict.Reason))
		}
	}
	return content.String()
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
