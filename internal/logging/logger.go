package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"wipecert_enterprise/internal/config"
)

// Enterprise логгер с аудитом поверх zerolog
type EnterpriseLogger struct {
	log  zerolog.Logger
	file *os.File
}

func NewEnterpriseLogger(cfg *config.Config, verbose bool) (*EnterpriseLogger, error) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	l := &EnterpriseLogger{}
	var sinks []io.Writer

	// Автоматическое создание директории для логов
	if cfg.Logging.File != "" {
		logDir := filepath.Dir(cfg.Logging.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			// Если не можем создать директорию, используем stderr
			fmt.Fprintf(os.Stderr, "[WARN] Не удалось создать директорию логов %s: %v\n", logDir, err)
			verbose = true
		} else {
			f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] Не удалось открыть файл логов %s: %v\n", cfg.Logging.File, err)
				verbose = true
			} else {
				l.file = f
				sinks = append(sinks, f)
			}
		}
	}

	if verbose {
		var console io.Writer = os.Stderr
		if !cfg.Logging.Structured {
			console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}
		}
		sinks = append(sinks, console)
	} else {
		// Ошибки видны всегда
		sinks = append(sinks, &zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}},
			Level:  zerolog.ErrorLevel,
		})
	}

	var w io.Writer
	if len(sinks) == 1 {
		w = sinks[0]
	} else {
		w = zerolog.MultiLevelWriter(sinks...)
	}

	l.log = zerolog.New(w).Level(parseLevel(cfg.Logging.Level)).With().Timestamp().Logger()
	return l, nil
}

// New строит логгер поверх произвольного writer (JSON)
func New(w io.Writer, level string) *EnterpriseLogger {
	return &EnterpriseLogger{log: zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()}
}

// Nop логгер, который ничего не пишет
func Nop() *EnterpriseLogger {
	return &EnterpriseLogger{log: zerolog.Nop()}
}

// Log пишет запись; fields задаются парами ключ/значение
func (l *EnterpriseLogger) Log(level, message string, fields ...interface{}) {
	var ev *zerolog.Event
	switch strings.ToUpper(level) {
	case "DEBUG":
		ev = l.log.Debug()
	case "WARN":
		ev = l.log.Warn()
	case "ERROR":
		ev = l.log.Error()
	case "FATAL":
		// без os.Exit: завершением процесса управляет вызывающий
		ev = l.log.WithLevel(zerolog.FatalLevel)
	default:
		ev = l.log.Info()
	}
	if ev == nil {
		return
	}
	if len(fields)%2 != 0 {
		fields = append(fields, "<missing>")
	}
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Msg(message)
}

// Zerolog возвращает нижележащий логгер
func (l *EnterpriseLogger) Zerolog() *zerolog.Logger {
	return &l.log
}

func (l *EnterpriseLogger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
