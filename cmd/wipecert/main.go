package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wipecert_enterprise/internal/app"
	"wipecert_enterprise/internal/cli"
	"wipecert_enterprise/internal/config"
	"wipecert_enterprise/internal/logging"
	"wipecert_enterprise/internal/reporting"
	"wipecert_enterprise/internal/security"
	"wipecert_enterprise/internal/wipe"
)

const (
	Version = "2.0.0"
	AppName = "WipeCert Enterprise"

	// Exit codes
	EXIT_SUCCESS = 0
	EXIT_WARNING = 2
	EXIT_ERROR   = 1
)

var (
	cfg            *config.Config
	logger         *logging.EnterpriseLogger
	verbose        bool
	quiet          bool
	configPath     string
	maxDurationStr string
	profile        string

	console = cli.NewConsole(os.Stdout, os.Stdin)
)

// exitError несёт код завершения для main
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, format string, args ...interface{}) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

// CLI команды
var rootCmd = &cobra.Command{
	Use:           "wipecert",
	Short:         "WipeCert Enterprise - затирание носителей с подписанными сертификатами",
	Long:          "Enterprise утилита для безопасного затирания дисков и файлов с выпуском проверяемых сертификатов уничтожения данных",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Показать цели затирания",
	RunE:  runList,
}

var methodsCmd = &cobra.Command{
	Use:   "methods",
	Short: "Показать методы затирания",
	RunE:  runMethods,
}

var recommendCmd = &cobra.Command{
	Use:   "recommend <цель>",
	Short: "Показать рекомендуемый метод для цели",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecommend,
}

var wipeCmd = &cobra.Command{
	Use:   "wipe <цели...>",
	Short: "Затереть устройства или файлы",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWipe,
}

var wipeFileCmd = &cobra.Command{
	Use:   "wipe-file <файл>",
	Short: "Затереть файл и при необходимости удалить его",
	Args:  cobra.ExactArgs(1),
	RunE:  runWipeFile,
}

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Интерактивное меню оператора",
	RunE:  runInteractive,
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Самодиагностика системы",
	RunE:  runDiagnose,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Подробный вывод")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Не выводить прогресс")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Путь к конфигурации (YAML или TOML)")
	rootCmd.PersistentFlags().StringVar(&maxDurationStr, "max-duration", "", "Максимальное время работы (например: 30m, 2h)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "Профиль производительности (safe/balanced/fast/paranoid)")

	for _, c := range []*cobra.Command{wipeCmd, wipeFileCmd} {
		c.Flags().StringP("pattern", "m", "", "Метод затирания (см. methods)")
		c.Flags().BoolP("force", "f", false, "Пропустить подтверждение")
		c.Flags().Bool("no-certify", false, "Не выпускать сертификат")
	}
	wipeCmd.Flags().Bool("allow-unknown", false, "Разрешить носители неизвестного типа")
	wipeFileCmd.Flags().Bool("remove", false, "Удалить файл после успешного затирания")

	recommendCmd.Flags().StringP("pattern", "m", "", "Запрошенный метод")

	diagnoseCmd.Flags().Bool("quick", false, "Быстрая диагностика")
	diagnoseCmd.Flags().Bool("full", false, "Полная диагностика")
	diagnoseCmd.Flags().Bool("deep", false, "Глубокая диагностика (включая тестовое затирание)")
	diagnoseCmd.Flags().String("test", "", "Конкретный тест (permissions/disks/paths/keys/ledger/wipe)")
	diagnoseCmd.Flags().String("output", "", "Сохранить отчёт в файл")

	interactiveCmd.Flags().Bool("no-certify", false, "Не выпускать сертификаты")

	rootCmd.AddCommand(listCmd, methodsCmd, recommendCmd, wipeCmd, wipeFileCmd, interactiveCmd, diagnoseCmd)
	rootCmd.AddCommand(newVerifyCmd(), newKeysCmd(), newCertificatesCmd(), newReportsCmd(), newConfigCmd())
}

// setup загружает конфигурацию, профиль и логгер
func setup() error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return withCode(EXIT_ERROR, "ошибка загрузки конфигурации: %w", err)
	}

	if profile != "" {
		if err := config.ApplyProfile(cfg, profile); err != nil {
			return withCode(EXIT_ERROR, "ошибка применения профиля %s: %w", profile, err)
		}
	}

	if maxDurationStr != "" {
		if _, err := time.ParseDuration(maxDurationStr); err != nil {
			return withCode(EXIT_ERROR, "неверный формат max-duration: %w", err)
		}
		cfg.Wipe.MaxDuration = maxDurationStr
	}

	if err := config.Validate(cfg); err != nil {
		return withCode(EXIT_ERROR, "невалидная конфигурация: %w", err)
	}

	logger, err = logging.NewEnterpriseLogger(cfg, verbose)
	if err != nil {
		return withCode(EXIT_ERROR, "ошибка инициализации логгера: %w", err)
	}
	if profile != "" {
		logger.Log("INFO", "Применён профиль", "profile", profile)
	}
	return nil
}

// openService setup + сервис; закрывать через closeService
func openService(ctx context.Context) (*app.Service, error) {
	if err := setup(); err != nil {
		return nil, err
	}
	svc, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Close()
		return nil, withCode(EXIT_ERROR, "ошибка открытия журнала: %w", err)
	}
	return svc, nil
}

func closeService(svc *app.Service) {
	if err := svc.Close(); err != nil {
		logger.Log("WARN", "Ошибка закрытия журнала", "error", err.Error())
	}
	logger.Close()
}

// signalContext отменяет контекст по SIGINT/SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			if logger != nil {
				logger.Log("WARN", "Получен сигнал, начинаем graceful shutdown", "signal", sig.String())
			}
			fmt.Printf("\n[INFO] Получен сигнал %s, завершаем работу...\n", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer closeService(svc)

	targets, err := svc.Targets(ctx)
	if err != nil {
		return err
	}
	console.PrintTargets(targets)
	return nil
}

func runMethods(cmd *cobra.Command, args []string) error {
	fmt.Println("Методы затирания:")
	fmt.Println("=================")
	for _, k := range wipe.Kinds() {
		fmt.Printf("%-12s %2d проход(ов)  %s\n", k, wipe.PassCount(k), wipe.Description(k))
	}
	return nil
}

func runRecommend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer closeService(svc)

	t, err := svc.Resolve(ctx, args[0])
	if err != nil {
		return err
	}
	pattern, _ := cmd.Flags().GetString("pattern")
	rec, err := svc.Recommend(t, pattern)
	if err != nil {
		return err
	}
	console.PrintRecommendation(t, rec)
	return nil
}

func runWipe(cmd *cobra.Command, args []string) error {
	startTime := time.Now()

	ctx, cancel := signalContext()
	defer cancel()

	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer closeService(svc)

	pattern, _ := cmd.Flags().GetString("pattern")
	force, _ := cmd.Flags().GetBool("force")
	noCertify, _ := cmd.Flags().GetBool("no-certify")
	allowUnknown, _ := cmd.Flags().GetBool("allow-unknown")

	logger.Log("INFO", "Запуск "+AppName, "version", Version, "targets", strings.Join(args, ","))

	var targets []wipe.Target
	recs := make(map[string]wipe.Recommendation)
	needDevices := false
	for _, arg := range args {
		t, err := svc.Resolve(ctx, arg)
		if err != nil {
			return withCode(EXIT_ERROR, "%s: %w", arg, err)
		}
		rec, err := svc.Recommend(t, pattern)
		if err != nil {
			return withCode(EXIT_ERROR, "%s: %w", arg, err)
		}
		if t.Kind != wipe.MediaFile {
			needDevices = true
		}
		targets = append(targets, t)
		recs[t.ID] = rec
	}

	if err := security.SecurityChecks(cfg, needDevices); err != nil {
		return withCode(EXIT_ERROR, "%w", err)
	}

	if !force && cfg.Security.RequireConfirmation {
		if !console.ConfirmWipe(targets, recs) {
			logger.Log("INFO", "Операция отменена пользователем")
			return nil
		}
	}

	certify := cfg.Wipe.AutoCertify && !noCertify
	var outcomes []app.Outcome
	var ops []reporting.Operation
	var hasWarnings, hasErrors bool

	for _, t := range targets {
		// Проверка контекста перед каждой целью
		if ctx.Err() != nil {
			logger.Log("INFO", "Операция отменена пользователем или по таймауту")
			hasWarnings = true
			break
		}

		out, err := svc.Wipe(ctx, app.WipeRequest{
			Target:            t,
			Pattern:           pattern,
			AllowUnknownMedia: allowUnknown,
			Certify:           certify,
			Progress:          console.Progress(quiet),
		})
		hasWarnings, hasErrors = classify(out, err, t, hasWarnings, hasErrors)
		if out.Result.JobID != "" {
			outcomes = append(outcomes, out)
			ops = append(ops, operation(out))
		}
	}

	console.PrintOutcomes(outcomes)
	return finish(svc, ops, startTime, hasWarnings, hasErrors)
}

func runWipeFile(cmd *cobra.Command, args []string) error {
	startTime := time.Now()

	ctx, cancel := signalContext()
	defer cancel()

	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer closeService(svc)

	pattern, _ := cmd.Flags().GetString("pattern")
	force, _ := cmd.Flags().GetBool("force")
	noCertify, _ := cmd.Flags().GetBool("no-certify")
	remove, _ := cmd.Flags().GetBool("remove")

	t, err := svc.Resolve(ctx, args[0])
	if err != nil {
		return withCode(EXIT_ERROR, "%w", err)
	}
	if t.Kind != wipe.MediaFile {
		return withCode(EXIT_ERROR, "%s не является обычным файлом", args[0])
	}
	rec, err := svc.Recommend(t, pattern)
	if err != nil {
		return withCode(EXIT_ERROR, "%w", err)
	}
	if !force && cfg.Security.RequireConfirmation {
		if !console.ConfirmWipe([]wipe.Target{t}, map[string]wipe.Recommendation{t.ID: rec}) {
			logger.Log("INFO", "Операция отменена пользователем")
			return nil
		}
	}

	out, err := svc.WipeFile(ctx, t.Path, pattern, remove, cfg.Wipe.AutoCertify && !noCertify, console.Progress(quiet))
	hasWarnings, hasErrors := classify(out, err, t, false, false)

	var ops []reporting.Operation
	if out.Result.JobID != "" {
		console.PrintOutcomes([]app.Outcome{out})
		ops = append(ops, operation(out))
	}
	return finish(svc, ops, startTime, hasWarnings, hasErrors)
}

// classify логирует исход задания и обновляет флаги предупреждений и ошибок
func classify(out app.Outcome, err error, t wipe.Target, hasWarnings, hasErrors bool) (bool, bool) {
	switch {
	case err == nil && out.Warning != "":
		hasWarnings = true
		logger.Log("WARN", "Цель обработана с предупреждением", "target", t.ID, "reason", out.Warning)
	case err == nil:
	case errors.Is(err, wipe.ErrCancelled):
		hasWarnings = true
		logger.Log("WARN", "Операция отменена", "target", t.ID, "reason", err.Error())
	case out.Result.FinalState == wipe.StateCompleted:
		// затирание завершено, сертификат не выдан
		hasErrors = true
		logger.Log("ERROR", "Ошибка выпуска сертификата", "target", t.ID, "error", err.Error())
	default:
		hasErrors = true
		logger.Log("ERROR", "Операция не удалась", "target", t.ID, "error", err.Error())
		if out.Result.JobID == "" {
			fmt.Printf("✗ %s - %v\n", t.Path, err)
		}
	}
	return hasWarnings, hasErrors
}

func operation(out app.Outcome) reporting.Operation {
	op := reporting.Operation{Result: out.Result, Warning: out.Warning}
	if out.Certificate != nil {
		op.Serial = out.Certificate.Serial
	}
	return op
}

// finish сохраняет отчёт и выбирает код завершения
func finish(svc *app.Service, ops []reporting.Operation, startTime time.Time, hasWarnings, hasErrors bool) error {
	exitCode := EXIT_SUCCESS
	switch {
	case hasErrors:
		exitCode = EXIT_ERROR
	case hasWarnings:
		exitCode = EXIT_WARNING
	}

	if len(ops) > 0 {
		if path, err := svc.Report(ops, profile, startTime, exitCode); err != nil {
			logger.Log("WARN", "Ошибка сохранения отчёта", "error", err.Error())
		} else if path != "" {
			fmt.Printf("\nОтчёт сохранён: %s\n", path)
		}
	}

	switch exitCode {
	case EXIT_ERROR:
		return withCode(EXIT_ERROR, "некоторые операции завершились с ошибкой")
	case EXIT_WARNING:
		return withCode(EXIT_WARNING, "некоторые операции завершились с предупреждениями")
	}
	return nil
}

func runInteractive(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer closeService(svc)

	noCertify, _ := cmd.Flags().GetBool("no-certify")
	menu := cli.NewInteractiveMenu(svc, console, cfg.Wipe.AutoCertify && !noCertify, quiet)
	return menu.Run(ctx)
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	// Получаем флаги
	full, _ := cmd.Flags().GetBool("full")
	deep, _ := cmd.Flags().GetBool("deep")
	testName, _ := cmd.Flags().GetString("test")
	output, _ := cmd.Flags().GetString("output")

	// Определяем уровень диагностики
	level := app.LevelQuick
	switch {
	case deep:
		level = app.LevelDeep
	case full:
		level = app.LevelFull
	}

	var test app.DiagnosticTest
	if testName != "" {
		switch app.DiagnosticTest(testName) {
		case app.TestPermissions, app.TestDisks, app.TestPaths, app.TestKeys, app.TestLedger, app.TestWipe:
			test = app.DiagnosticTest(testName)
		default:
			return withCode(EXIT_ERROR, "неизвестный тест: %s", testName)
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer closeService(svc)

	fmt.Printf("Запуск диагностики системы (уровень: %s)\n", level)

	diagnostics, err := svc.RunDiagnostics(ctx, level, test)
	if err != nil {
		return withCode(EXIT_ERROR, "ошибка выполнения диагностики: %w", err)
	}

	// Выводим результаты
	fmt.Println("\nРезультаты диагностики:")
	fmt.Println("=====================")
	fmt.Printf("Уровень: %s\n", diagnostics.Level)
	fmt.Printf("Общий статус: %s\n", diagnostics.Overall)
	fmt.Printf("Длительность: %s\n", diagnostics.Duration)
	fmt.Printf("ОС: %s/%s\n", diagnostics.OS, diagnostics.Arch)
	fmt.Printf("Всего тестов: %d\n", diagnostics.Summary.TotalTests)
	fmt.Printf("Пройдено: %d\n", diagnostics.Summary.Passed)
	fmt.Printf("Предупреждений: %d\n", diagnostics.Summary.Warnings)
	fmt.Printf("Ошибок: %d\n", diagnostics.Summary.Failed)

	if len(diagnostics.Results) > 0 {
		fmt.Println("\nДетальные результаты:")
		fmt.Println("--------------------")
		for _, result := range diagnostics.Results {
			status := "✓"
			if result.Status == "FAIL" {
				status = "✗"
			} else if result.Status == "WARN" {
				status = "⚠"
			}

			fmt.Printf("%s %s - %s (%v)\n", status, result.Test, result.Message, result.Duration)

			if verbose && result.Details != nil {
				fmt.Printf("   Детали: %+v\n", result.Details)
			}
		}
	}

	if output != "" {
		if err := app.SaveDiagnostics(diagnostics, output); err != nil {
			return withCode(EXIT_ERROR, "ошибка сохранения отчёта: %w", err)
		}
		fmt.Printf("\nОтчёт сохранён: %s\n", output)
	}

	if diagnostics.Overall == "CRITICAL" {
		return withCode(EXIT_ERROR, "обнаружены критические проблемы")
	} else if diagnostics.Overall == "WARNING" {
		fmt.Println("\n⚠ Обнаружены предупреждения. Рекомендуется проверить систему.")
	}

	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(EXIT_ERROR)
	}
	os.Exit(EXIT_SUCCESS)
}
