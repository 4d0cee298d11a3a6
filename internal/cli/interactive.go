package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"wipecert_enterprise/internal/app"
	"wipecert_enterprise/internal/certificate"
	"wipecert_enterprise/internal/reporting"
	"wipecert_enterprise/internal/wipe"
)

var errExit = errors.New("exit")

// InteractiveMenu пошаговый режим для оператора без аргументов командной строки
type InteractiveMenu struct {
	svc     *app.Service
	console *Console
	certify bool
	quiet   bool
}

func NewInteractiveMenu(svc *app.Service, console *Console, certify, quiet bool) *InteractiveMenu {
	return &InteractiveMenu{svc: svc, console: console, certify: certify, quiet: quiet}
}

// Run показывает меню до выбора выхода, конца ввода или отмены ctx
func (im *InteractiveMenu) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			im.console.Printf("\nПрограмма завершена.\n")
			return nil
		}
		err := im.showMainMenu(ctx)
		switch {
		case err == nil:
		case errors.Is(err, errExit), errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
			im.console.Printf("\nПрограмма завершена.\n")
			return nil
		default:
			im.console.Printf("\n❌ Ошибка: %v\n", err)
		}
	}
}

func (im *InteractiveMenu) showMainMenu(ctx context.Context) error {
	c := im.console
	c.Printf("\n╔══════════════════════════════════════════════╗\n")
	c.Printf("║          WipeCert Enterprise - меню          ║\n")
	c.Printf("╠══════════════════════════════════════════════╣\n")
	c.Printf("║  1. Цели затирания                           ║\n")
	c.Printf("║  2. Затереть цель                            ║\n")
	c.Printf("║  3. Проверить сертификат                     ║\n")
	c.Printf("║  4. Выданные сертификаты                     ║\n")
	c.Printf("║  5. Диагностика                              ║\n")
	c.Printf("║  6. Выход                                    ║\n")
	c.Printf("╚══════════════════════════════════════════════╝\n")

	choice, err := c.Prompt("Выберите опцию (1-6): ")
	if err != nil {
		return err
	}
	switch choice {
	case "1":
		return im.showTargets(ctx)
	case "2":
		return im.showWipeMenu(ctx)
	case "3":
		return im.showVerifyMenu(ctx)
	case "4":
		return im.showCertificates(ctx)
	case "5":
		return im.showDiagnostics(ctx)
	case "6":
		return errExit
	default:
		return nil
	}
}

func (im *InteractiveMenu) showTargets(ctx context.Context) error {
	targets, err := im.svc.Targets(ctx)
	if err != nil {
		return err
	}
	im.console.PrintTargets(targets)
	return nil
}

func (im *InteractiveMenu) showWipeMenu(ctx context.Context) error {
	c := im.console
	targets, err := im.svc.Targets(ctx)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("цели не найдены")
	}

	c.Printf("Доступные цели:\n")
	for i, t := range targets {
		mark := ""
		if t.IsSystem {
			mark = " [системная]"
		}
		c.Printf("%d. %s [%s] - %.1f GB%s\n", i+1, t.Path, t.Kind, gb(t.Size), mark)
	}
	choice, err := c.Prompt("\nВыберите номер: ")
	if err != nil {
		return err
	}
	idx, _ := strconv.Atoi(choice)
	if idx < 1 || idx > len(targets) {
		return fmt.Errorf("неверный выбор")
	}
	target := targets[idx-1]

	kinds := wipe.Kinds()
	for i, k := range kinds {
		c.Printf("%d. %-12s %2d проход(ов)\n", i+1, k, wipe.PassCount(k))
	}
	m, err := c.Prompt("Метод (Enter - рекомендуемый): ")
	if err != nil {
		return err
	}
	pattern := ""
	if m != "" {
		n, err := strconv.Atoi(m)
		if err != nil || n < 1 || n > len(kinds) {
			return fmt.Errorf("неверный метод: %s", m)
		}
		pattern = string(kinds[n-1])
	}

	rec, err := im.svc.Recommend(target, pattern)
	if err != nil {
		return err
	}
	if !c.ConfirmWipe([]wipe.Target{target}, map[string]wipe.Recommendation{target.ID: rec}) {
		c.Printf("Отменено\n")
		return nil
	}

	out, err := im.svc.Wipe(ctx, app.WipeRequest{
		Target:   target,
		Pattern:  string(rec.Pattern.Kind),
		Certify:  im.certify,
		Progress: im.Progress(),
	})
	if out.Result.JobID != "" {
		c.PrintOutcomes([]app.Outcome{out})
	}
	return err
}

// Progress обработчик прогресса меню
func (im *InteractiveMenu) Progress() wipe.ProgressFunc {
	return im.console.Progress(im.quiet)
}

func (im *InteractiveMenu) showVerifyMenu(ctx context.Context) error {
	path, err := im.console.Prompt("Путь к сертификату: ")
	if err != nil {
		return err
	}
	cert, err := reporting.LoadCertificate(path)
	if err != nil {
		return err
	}
	verdict, err := im.svc.Verify(ctx, cert, nil)
	if err != nil {
		return err
	}
	im.console.Printf("%s", reporting.RenderCertificateText(cert, &verdict))
	if verdict.Status != certificate.Valid {
		return verdict.Err()
	}
	return nil
}

func (im *InteractiveMenu) showCertificates(ctx context.Context) error {
	certs, err := im.svc.Certificates(ctx, "")
	if err != nil {
		return err
	}
	im.console.Printf("Выданные сертификаты: %d\n", len(certs))
	for _, cert := range certs {
		im.console.Printf("  %s  %s  %s  %s\n", cert.Serial, cert.SignedAt.Format("2006-01-02 15:04:05"),
			cert.Result.TargetID, cert.Result.Pattern)
	}
	return nil
}

func (im *InteractiveMenu) showDiagnostics(ctx context.Context) error {
	d, err := im.svc.RunDiagnostics(ctx, app.LevelQuick, "")
	if err != nil {
		return err
	}
	im.console.Printf("Общий статус: %s\n", d.Overall)
	for _, r := range d.Results {
		im.console.Printf("  %-12s %-4s %s\n", r.Test, r.Status, r.Message)
	}
	return nil
}
