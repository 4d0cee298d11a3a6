package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"wipecert_enterprise/internal/app"
	"wipecert_enterprise/internal/wipe"
)

// Console вывод CLI и чтение подтверждений оператора
type Console struct {
	out io.Writer
	in  *bufio.Reader
	mu  sync.Mutex
}

// NewConsole creates a console over the given streams.
func NewConsole(out io.Writer, in io.Reader) *Console {
	return &Console{out: out, in: bufio.NewReader(in)}
}

// Printf пишет в вывод консоли
func (c *Console) Printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Confirm задаёт вопрос и ждёт ответа y/N
func (c *Console) Confirm(question string) bool {
	c.Printf("%s (y/N): ", question)
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes" || answer == "д" || answer == "да"
}

// Prompt печатает приглашение и читает строку. io.EOF, если ввод закончился.
func (c *Console) Prompt(text string) (string, error) {
	c.Printf("%s", text)
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ConfirmWipe печатает список целей и требует подтверждения
func (c *Console) ConfirmWipe(targets []wipe.Target, rec map[string]wipe.Recommendation) bool {
	c.Printf("ВНИМАНИЕ: Данные будут безвозвратно уничтожены на %d целях:\n", len(targets))
	for _, t := range targets {
		r := rec[t.ID]
		c.Printf("  %s (%s, %s, %.1f GB) метод: %s\n", t.Path, t.ID, t.Kind, gb(t.Size), r.Pattern.Kind)
		if r.Warning != "" {
			c.Printf("    ⚠ %s\n", r.Warning)
		}
	}
	return c.Confirm("Продолжить?")
}

// PrintTargets выводит таблицу целей
func (c *Console) PrintTargets(targets []wipe.Target) {
	c.Printf("Доступные цели затирания:\n")
	c.Printf("==========================\n")
	if len(targets) == 0 {
		c.Printf("  (нет)\n")
		return
	}
	for _, t := range targets {
		flags := make([]string, 0, 3)
		if t.IsSystem {
			flags = append(flags, "System")
		}
		if t.Removable {
			flags = append(flags, "Removable")
		}
		if !t.Writable {
			flags = append(flags, "ReadOnly")
		}
		if len(flags) == 0 {
			flags = append(flags, "Data")
		}
		c.Printf("%-24s %-8s %8.1f GB  %-10s %s\n", t.Path, t.Kind, gb(t.Size), strings.Join(flags, ","), strings.TrimSpace(t.Model+" "+t.Serial))
	}
}

// PrintRecommendation выводит выбранный метод
func (c *Console) PrintRecommendation(t wipe.Target, r wipe.Recommendation) {
	c.Printf("Цель: %s (%s)\n", t.Path, t.Kind)
	c.Printf("Метод: %s, проходов: %d\n", r.Pattern.Kind, wipe.PassCount(r.Pattern.Kind))
	c.Printf("Описание: %s\n", wipe.Description(r.Pattern.Kind))
	if r.Reason != "" {
		c.Printf("Причина: %s\n", r.Reason)
	}
	if r.Warning != "" {
		c.Printf("⚠ %s\n", r.Warning)
	}
	if est, err := wipe.EstimateWrite(r.Pattern.Kind, t.Size); err == nil {
		c.Printf("Объём записи: %.1f GB\n", gb(est.BytesPerRun))
	}
}

// PrintOutcomes выводит итоговую таблицу
func (c *Console) PrintOutcomes(outcomes []app.Outcome) {
	c.Printf("\nРезультаты затирания:\n")
	c.Printf("==================\n")
	for _, o := range outcomes {
		r := o.Result
		status := "✓"
		switch {
		case r.FinalState == wipe.StateCancelled || o.Warning != "":
			status = "⚠"
		case r.FinalState != wipe.StateCompleted:
			status = "✗"
		}
		c.Printf("%s %s - %s (%s, %d/%d проходов, %.1f GB, %.1f MB/s)\n", status, r.TargetPath, r.FinalState,
			r.Pattern, r.PassesCompleted, r.TotalPasses, gb(r.BytesWritten), r.SpeedMBps())
		if o.Warning != "" {
			c.Printf("  Предупреждение: %s\n", o.Warning)
		}
		if r.ErrorDetail != "" {
			c.Printf("  Ошибка: %s\n", r.ErrorDetail)
		}
		if o.Certificate != nil {
			c.Printf("  Сертификат: %s\n", o.Certificate.Serial)
		}
	}
}

// Progress возвращает обработчик прогресса, печатающий строку состояния.
// При quiet ничего не выводится.
func (c *Console) Progress(quiet bool) wipe.ProgressFunc {
	if quiet {
		return nil
	}
	return func(p wipe.ProgressInfo) {
		switch p.Phase {
		case wipe.PhaseDone:
			c.Printf("\r%s: %s%s\n", p.TargetID, p.State, strings.Repeat(" ", 40))
		case wipe.PhaseVerifying:
			c.Printf("\r%s: проверка после прохода %d/%d", p.TargetID, p.PassIndex+1, p.TotalPasses)
		default:
			c.Printf("\r%s: проход %d/%d %5.1f%% %7.1f MB/s", p.TargetID, p.PassIndex+1, p.TotalPasses, p.Percentage(), p.SpeedMBps)
		}
	}
}

func gb(n uint64) float64 {
	return float64(n) / (1024 * 1024 * 1024)
}
