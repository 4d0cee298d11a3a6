package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"wipecert_enterprise/internal/certificate"
	"wipecert_enterprise/internal/config"
	"wipecert_enterprise/internal/keys"
	"wipecert_enterprise/internal/reporting"
)

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <сертификат.json>...",
		Short: "Проверить подпись сертификатов",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := openService(ctx)
			if err != nil {
				return err
			}
			defer closeService(svc)

			var pub *keys.PublicKey
			if path, _ := cmd.Flags().GetString("pubkey"); path != "" {
				k, err := reporting.LoadPublicKey(path)
				if err != nil {
					return withCode(EXIT_ERROR, "%w", err)
				}
				pub = &k
			}

			report := reporting.NewVerificationReport(cfg.Keys.Operator, "certificate verification", time.Now())
			for _, file := range args {
				cert, err := reporting.LoadCertificate(file)
				if err != nil {
					report.Add(file, nil, nil, err)
					console.Printf("✗ %s: %v\n", file, err)
					continue
				}
				verdict, err := svc.Verify(ctx, cert, pub)
				if err != nil {
					report.Add(file, cert, nil, err)
					console.Printf("✗ %s: %v\n", file, err)
					continue
				}
				report.Add(file, cert, &verdict, nil)
				logger.Log("INFO", "Проверка сертификата", "serial", cert.Serial, "status", verdict.Status.String())

				if len(args) == 1 {
					console.Printf("%s", reporting.RenderCertificateText(cert, &verdict))
				} else {
					mark := "✓"
					if verdict.Status != certificate.Valid {
						mark = "✗"
					}
					console.Printf("%s %s: %s %s\n", mark, file, verdict.Status, verdict.Reason)
				}
			}

			if out, _ := cmd.Flags().GetString("report"); out != "" {
				format, _ := cmd.Flags().GetString("format")
				path, err := reporting.SaveVerificationReport(report, format, out)
				if err != nil {
					return withCode(EXIT_ERROR, "%w", err)
				}
				console.Printf("Отчёт проверки: %s\n", path)
			}

			if !report.AllValid() {
				s := report.Summary
				return withCode(EXIT_ERROR, "проверку прошли %d из %d сертификатов", s.Valid, s.Total)
			}
			return nil
		},
	}
	cmd.Flags().String("pubkey", "", "PEM публичного ключа эмитента (по умолчанию ключ из журнала)")
	cmd.Flags().String("report", "", "Сохранить отчёт проверки в файл")
	cmd.Flags().String("format", "json", "Формат отчёта проверки (json, csv)")
	return cmd
}

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Управление ключом эмитента",
	}

	generate := &cobra.Command{
		Use:   "generate",
		Short: "Создать новый ключ эмитента",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := openService(ctx)
			if err != nil {
				return err
			}
			defer closeService(svc)

			force, _ := cmd.Flags().GetBool("force")
			bits, _ := cmd.Flags().GetInt("bits")
			if _, err := os.Stat(cfg.Keys.KeystorePath); err == nil && !force {
				return withCode(EXIT_ERROR, "хранилище %s уже существует, используйте --force", cfg.Keys.KeystorePath)
			}

			pub, err := svc.GenerateKey(ctx, bits)
			if err != nil {
				return withCode(EXIT_ERROR, "ошибка генерации ключа: %w", err)
			}
			fmt.Printf("Ключ эмитента: %s (%d бит)\n", pub.Fingerprint, pub.Key.N.BitLen())
			if len(cfg.Passphrase()) == 0 {
				fmt.Printf("⚠ Ключ сохранён без шифрования (переменная %s не задана)\n", cfg.Keys.PassphraseEnv)
			}
			return nil
		},
	}
	generate.Flags().Int("bits", 0, "Размер ключа RSA (по умолчанию из конфигурации)")
	generate.Flags().Bool("force", false, "Перезаписать существующий ключ")

	export := &cobra.Command{
		Use:   "export",
		Short: "Экспортировать публичный ключ эмитента",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := openService(ctx)
			if err != nil {
				return err
			}
			defer closeService(svc)

			pub, err := svc.EnsureKey(ctx)
			if err != nil {
				return withCode(EXIT_ERROR, "%w", err)
			}
			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				fmt.Print(string(pub.PEM))
				return nil
			}
			if err := reporting.SavePublicKey(pub, out); err != nil {
				return withCode(EXIT_ERROR, "ошибка сохранения ключа: %w", err)
			}
			fmt.Printf("Публичный ключ %s сохранён: %s\n", pub.Fingerprint, out)
			return nil
		},
	}
	export.Flags().String("out", "", "Файл для PEM (по умолчанию stdout)")

	cmd.AddCommand(generate, export)
	return cmd
}

func newCertificatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "certificates",
		Aliases: []string{"certs"},
		Short:   "Журнал выданных сертификатов",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Показать выданные сертификаты",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := openService(ctx)
			if err != nil {
				return err
			}
			defer closeService(svc)

			target, _ := cmd.Flags().GetString("target")
			certs, err := svc.Certificates(ctx, target)
			if err != nil {
				return withCode(EXIT_ERROR, "%w", err)
			}
			fmt.Println("Выданные сертификаты:")
			fmt.Println("=====================")
			for _, c := range certs {
				fmt.Printf("%s  %s  %-28s %s\n", c.Serial, c.SignedAt.Format("2006-01-02 15:04:05"), c.Result.TargetID, c.Result.Pattern)
			}
			fmt.Printf("Всего: %d\n", len(certs))
			return nil
		},
	}
	list.Flags().String("target", "", "Только для цели")

	show := &cobra.Command{
		Use:   "show <serial>",
		Short: "Показать сертификат и проверить его",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := openService(ctx)
			if err != nil {
				return err
			}
			defer closeService(svc)
			if svc.Ledger() == nil {
				return withCode(EXIT_ERROR, "журнал выключен в конфигурации")
			}

			cert, err := svc.Ledger().Certificate(ctx, args[0])
			if err != nil {
				return withCode(EXIT_ERROR, "%w", err)
			}
			verdict, err := svc.Verify(ctx, cert, nil)
			if err != nil {
				return withCode(EXIT_ERROR, "%w", err)
			}
			fmt.Print(reporting.RenderCertificateText(cert, &verdict))

			if out, _ := cmd.Flags().GetString("out"); out != "" {
				if err := reporting.SaveCertificate(cert, out); err != nil {
					return withCode(EXIT_ERROR, "%w", err)
				}
				fmt.Printf("\nСертификат сохранён: %s\n", out)
			}
			return nil
		},
	}
	show.Flags().String("out", "", "Сохранить документ сертификата в файл")

	issue := &cobra.Command{
		Use:   "issue <job-id>",
		Short: "Выпустить сертификат для завершённого задания из журнала",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := openService(ctx)
			if err != nil {
				return err
			}
			defer closeService(svc)

			cert, err := svc.CertifyJob(ctx, args[0])
			if err != nil {
				return withCode(EXIT_ERROR, "%w", err)
			}
			fmt.Printf("Сертификат выпущен: %s\n", cert.Serial)
			return nil
		},
	}

	history := &cobra.Command{
		Use:   "history <цель>",
		Short: "История заданий по цели",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := openService(ctx)
			if err != nil {
				return err
			}
			defer closeService(svc)

			targetID := args[0]
			if t, err := svc.Resolve(ctx, args[0]); err == nil {
				targetID = t.ID
			}
			results, err := svc.History(ctx, targetID)
			if err != nil {
				return withCode(EXIT_ERROR, "%w", err)
			}
			for _, r := range results {
				fmt.Printf("%s  %s  %-10s %-11s %d/%d\n", r.JobID, r.EndedAt.Format("2006-01-02 15:04:05"),
					r.Pattern, r.FinalState, r.PassesCompleted, r.TotalPasses)
			}
			fmt.Printf("Всего: %d\n", len(results))
			return nil
		},
	}

	cmd.AddCommand(list, show, issue, history)
	return cmd
}

func newReportsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Работа с отчётами",
	}

	aggregate := &cobra.Command{
		Use:   "aggregate <отчёты...>",
		Short: "Агрегировать отчёты нескольких запусков",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reports := make([]reporting.Report, 0, len(args))
			for _, path := range args {
				r, err := reporting.LoadReport(path)
				if err != nil {
					return withCode(EXIT_ERROR, "%w", err)
				}
				reports = append(reports, *r)
			}
			agg := reporting.AggregateReports(reports)

			out, _ := cmd.Flags().GetString("output")
			if out == "" {
				fmt.Printf("Запусков: %d, машин: %d, целей: %d\n", agg.TotalRuns, agg.TotalMachines, agg.TotalTargets)
				fmt.Printf("Завершено: %d, частично: %d, отменено: %d, ошибок: %d\n",
					agg.Summary.Completed, agg.Summary.Partial, agg.Summary.Cancelled, agg.Summary.Failed)
				fmt.Printf("Успешность: %.1f%%\n", agg.SuccessRate)
				return nil
			}
			data, err := json.MarshalIndent(agg, "", "  ")
			if err != nil {
				return withCode(EXIT_ERROR, "ошибка сериализации отчёта: %w", err)
			}
			if err := os.WriteFile(out, data, 0644); err != nil {
				return withCode(EXIT_ERROR, "ошибка сохранения отчёта: %w", err)
			}
			fmt.Printf("Отчёт сохранён: %s\n", out)
			return nil
		},
	}
	aggregate.Flags().String("output", "", "Сохранить агрегированный отчёт в файл")

	cmd.AddCommand(aggregate)
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Работа с конфигурацией",
	}

	initCmd := &cobra.Command{
		Use:   "init <файл>",
		Short: "Записать конфигурацию по умолчанию (YAML или TOML по расширению)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := config.Default()
			if profile != "" {
				if err := config.ApplyProfile(c, profile); err != nil {
					return withCode(EXIT_ERROR, "%w", err)
				}
			}
			if err := config.Save(c, args[0]); err != nil {
				return withCode(EXIT_ERROR, "ошибка сохранения конфигурации: %w", err)
			}
			fmt.Printf("Конфигурация сохранена: %s\n", args[0])
			return nil
		},
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Проверить конфигурацию",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setup(); err != nil {
				return err
			}
			defer logger.Close()
			fmt.Println("Конфигурация корректна")
			return nil
		},
	}

	cmd.AddCommand(initCmd, check)
	return cmd
}
