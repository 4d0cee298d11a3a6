package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"wipecert_enterprise/internal/certificate"
	"wipecert_enterprise/internal/config"
	"wipecert_enterprise/internal/keys"
	"wipecert_enterprise/internal/ledger"
	"wipecert_enterprise/internal/logging"
	"wipecert_enterprise/internal/reporting"
	"wipecert_enterprise/internal/security"
	"wipecert_enterprise/internal/system"
	"wipecert_enterprise/internal/wipe"
)

// Dependencies внешние зависимости сервиса; нулевые поля заменяются
// реализациями для текущей платформы
type Dependencies struct {
	Lister system.Lister
	Opener wipe.Opener
	Keys   *keys.Manager
	Ledger *ledger.Store
	Now    func() time.Time
}

// Service связывает перечисление целей, политику, оркестратор, выпуск
// сертификатов, журнал и отчёты
type Service struct {
	cfg    *config.Config
	logger *logging.EnterpriseLogger
	lister system.Lister
	policy *security.Policy
	orch   *wipe.Orchestrator
	keys   *keys.Manager
	ledger *ledger.Store
	now    func() time.Time
}

// WipeRequest параметры одного затирания
type WipeRequest struct {
	Target wipe.Target
	// Пусто: метод выбирается политикой по типу носителя
	Pattern           string
	AllowUnknownMedia bool
	Certify           bool
	Progress          wipe.ProgressFunc
}

// Outcome результат затирания и, если выдан, сертификат
type Outcome struct {
	Result         wipe.Result
	Recommendation wipe.Recommendation
	Certificate    *certificate.Certificate
	Warning        string
}

// New создаёт сервис
func New(cfg *config.Config, logger *logging.EnterpriseLogger, deps Dependencies) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if deps.Lister == nil {
		deps.Lister = system.NewLister()
	}
	if deps.Opener == nil {
		deps.Opener = system.OpenDevice
	}
	if deps.Keys == nil {
		deps.Keys = keys.NewManager()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	orch := wipe.NewOrchestrator(wipe.Options{
		ChunkSize:         cfg.Wipe.ChunkSize,
		MaxAttempts:       cfg.Wipe.MaxAttempts,
		RetryBackoff:      cfg.Wipe.RetryBackoff,
		SampleRatio:       cfg.Verify.SampleRatio,
		MinSampleBlocks:   cfg.Verify.MinBlocks,
		AllowUnknownMedia: cfg.Security.AllowUnknownMedia,
		MaxBytesPerSecond: cfg.MaxBytesPerSecond(),
		Opener:            deps.Opener,
		Logger:            logger,
		Now:               deps.Now,
	})

	return &Service{
		cfg:    cfg,
		logger: logger,
		lister: deps.Lister,
		policy: security.NewPolicy(cfg),
		orch:   orch,
		keys:   deps.Keys,
		ledger: deps.Ledger,
		now:    deps.Now,
	}
}

// Open создаёт сервис для CLI: журнал открывается, если включён в конфигурации
func Open(ctx context.Context, cfg *config.Config, logger *logging.EnterpriseLogger) (*Service, error) {
	deps := Dependencies{}
	if cfg.Ledger.Enabled {
		store, err := ledger.Open(ctx, cfg.Ledger.Path)
		if err != nil {
			return nil, err
		}
		deps.Ledger = store
	}
	return New(cfg, logger, deps), nil
}

// Close освобождает журнал
func (s *Service) Close() error {
	if s.ledger != nil {
		return s.ledger.Close()
	}
	return nil
}

// Orchestrator оркестратор сервиса
func (s *Service) Orchestrator() *wipe.Orchestrator { return s.orch }

// Ledger журнал (nil, если выключен)
func (s *Service) Ledger() *ledger.Store { return s.ledger }

// Keys менеджер ключа эмитента
func (s *Service) Keys() *keys.Manager { return s.keys }

// Targets перечисляет цели с применённой политикой защиты
func (s *Service) Targets(ctx context.Context) ([]wipe.Target, error) {
	targets, err := s.lister.ListTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения целей: %w", err)
	}
	return s.policy.ApplyAll(targets), nil
}

// Target ищет цель по идентификатору или пути
func (s *Service) Target(ctx context.Context, idOrPath string) (wipe.Target, error) {
	t, err := system.FindTarget(ctx, s.lister, idOrPath)
	if err != nil {
		return wipe.Target{}, err
	}
	return s.policy.Apply(t), nil
}

// Resolve принимает путь к обычному файлу, путь к устройству или его идентификатор
func (s *Service) Resolve(ctx context.Context, arg string) (wipe.Target, error) {
	if fi, err := os.Stat(arg); err == nil && fi.Mode().IsRegular() {
		t, err := system.FileTarget(arg)
		if err != nil {
			return wipe.Target{}, err
		}
		return s.policy.Apply(t), nil
	}
	return s.Target(ctx, arg)
}

// Recommend выбирает метод для цели; пустой requested берётся из конфигурации
func (s *Service) Recommend(t wipe.Target, requested string) (wipe.Recommendation, error) {
	if requested == "" {
		requested = s.cfg.Wipe.DefaultPattern
	}
	var kind wipe.PatternKind
	if requested != "" {
		k, err := wipe.ParsePattern(requested)
		if err != nil {
			return wipe.Recommendation{}, err
		}
		kind = k
	}
	return wipe.Recommend(t.Kind, kind), nil
}

// Wipe runs one job to a terminal state, records it in the ledger and, for
// completed jobs when requested, issues a certificate. A failed or cancelled
// job returns its result together with the typed error.
func (s *Service) Wipe(ctx context.Context, req WipeRequest) (Outcome, error) {
	target := s.policy.Apply(req.Target)

	rec, err := s.Recommend(target, req.Pattern)
	if err != nil {
		return Outcome{}, err
	}
	if rec.Warning != "" {
		s.logger.Log("WARN", rec.Warning, "target", target.ID, "pattern", rec.Pattern.Kind)
	}

	if d := s.cfg.GetMaxDuration(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	out := Outcome{Recommendation: rec, Warning: rec.Warning}
	res, runErr := s.orch.Run(ctx, wipe.Request{
		Target:            target,
		Pattern:           rec.Pattern,
		AllowUnknownMedia: req.AllowUnknownMedia,
		Progress:          req.Progress,
	})
	out.Result = res

	var verr *wipe.ValidationError
	if errors.As(runErr, &verr) || errors.Is(runErr, wipe.ErrTargetBusy) || res.JobID == "" {
		// задание не стартовало: писать в журнал нечего
		return out, runErr
	}

	if s.ledger != nil {
		if err := s.ledger.RecordResult(context.WithoutCancel(ctx), res); err != nil {
			s.logger.Log("ERROR", "Ошибка записи результата в журнал", "job", res.JobID, "error", err.Error())
		}
	}
	if runErr != nil {
		return out, runErr
	}

	if err := res.VerificationErr(); err != nil {
		out.Warning = err.Error()
	}

	if req.Certify {
		cert, err := s.Certify(context.WithoutCancel(ctx), res)
		if err != nil {
			// сертификат не выдан, но затирание остаётся завершённым
			return out, err
		}
		out.Certificate = cert
	}
	return out, nil
}

// WipeFile wipes a regular file and, if remove is set and the job completed,
// renames it to a random name and unlinks it.
func (s *Service) WipeFile(ctx context.Context, path, pattern string, remove, certify bool, progress wipe.ProgressFunc) (Outcome, error) {
	t, err := system.FileTarget(path)
	if err != nil {
		return Outcome{}, err
	}
	out, err := s.Wipe(ctx, WipeRequest{Target: t, Pattern: pattern, Certify: certify, Progress: progress})
	if err != nil || !remove || out.Result.FinalState != wipe.StateCompleted {
		return out, err
	}
	if err := removeWiped(t.Path); err != nil {
		return out, err
	}
	s.logger.Log("INFO", "Файл удалён после затирания", "path", t.Path)
	return out, nil
}

// removeWiped скрывает исходное имя перед удалением
func removeWiped(path string) error {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	renamed := filepath.Join(filepath.Dir(path), hex.EncodeToString(buf))
	if err := os.Rename(path, renamed); err != nil {
		return fmt.Errorf("ошибка переименования %s: %w", path, err)
	}
	if err := os.Remove(renamed); err != nil {
		return fmt.Errorf("ошибка удаления %s: %w", renamed, err)
	}
	return nil
}

// EnsureKey загружает ключ эмитента из хранилища или создаёт новый
func (s *Service) EnsureKey(ctx context.Context) (keys.PublicKey, error) {
	pub, err := s.keys.ExportPublic()
	if err != nil {
		var created bool
		pub, created, err = s.keys.LoadOrGenerate(s.cfg.Keys.KeystorePath, s.cfg.Passphrase(), s.cfg.Keys.Bits)
		if err != nil {
			return keys.PublicKey{}, fmt.Errorf("ошибка загрузки ключа эмитента: %w", err)
		}
		if created {
			s.logger.Log("INFO", "Создан новый ключ эмитента", "keystore", s.cfg.Keys.KeystorePath, "issuer", pub)
		}
	}
	// запись ключа в журнал идемпотентна
	if s.ledger != nil {
		if err := s.ledger.RecordKey(ctx, pub); err != nil {
			return keys.PublicKey{}, err
		}
	}
	return pub, nil
}

// Certify выпускает сертификат для завершённого результата
func (s *Service) Certify(ctx context.Context, res wipe.Result) (*certificate.Certificate, error) {
	if res.FinalState != wipe.StateCompleted {
		return nil, fmt.Errorf("%w: final state is %s", certificate.ErrNotCertifiable, res.FinalState)
	}
	if _, err := s.EnsureKey(ctx); err != nil {
		return nil, &certificate.SigningError{Err: err}
	}

	issuer := certificate.NewIssuer(s.keys,
		certificate.WithOperator(s.cfg.Keys.Operator),
		certificate.WithOrganization(s.cfg.Keys.Organization),
		certificate.WithLogger(s.logger),
		certificate.WithClock(s.now),
	)
	cert, err := issuer.Issue(res)
	if err != nil {
		return nil, err
	}

	if s.ledger != nil {
		if err := s.ledger.RecordCertificate(ctx, cert); err != nil {
			return cert, fmt.Errorf("сертификат выпущен, но не записан в журнал: %w", err)
		}
	}
	if s.cfg.Reporting.Enabled {
		path := reporting.CertificatePath(s.cfg.Reporting.LocalPath, cert)
		if err := reporting.SaveCertificate(cert, path); err != nil {
			s.logger.Log("WARN", "Ошибка сохранения сертификата", "serial", cert.Serial, "error", err.Error())
		}
	}
	return cert, nil
}

// CertifyJob выпускает сертификат для задания из журнала (например,
// запущенного без сертификации)
func (s *Service) CertifyJob(ctx context.Context, jobID string) (*certificate.Certificate, error) {
	if s.ledger == nil {
		return nil, errLedgerDisabled
	}
	res, err := s.ledger.Result(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.Certify(ctx, res)
}

// GenerateKey создаёт новый ключ эмитента и перезаписывает хранилище.
// Ранее выданные сертификаты проверяются по ключам из журнала.
func (s *Service) GenerateKey(ctx context.Context, bits int) (keys.PublicKey, error) {
	if bits == 0 {
		bits = s.cfg.Keys.Bits
	}
	pub, err := s.keys.Generate(bits)
	if err != nil {
		return keys.PublicKey{}, err
	}
	if err := s.keys.Save(s.cfg.Keys.KeystorePath, s.cfg.Passphrase()); err != nil {
		return keys.PublicKey{}, err
	}
	if s.ledger != nil {
		if err := s.ledger.RecordKey(ctx, pub); err != nil {
			return keys.PublicKey{}, err
		}
	}
	s.logger.Log("INFO", "Создан новый ключ эмитента", "keystore", s.cfg.Keys.KeystorePath, "issuer", pub)
	return pub, nil
}

// Certificates сертификаты из журнала; пустой targetID означает все
func (s *Service) Certificates(ctx context.Context, targetID string) ([]*certificate.Certificate, error) {
	if s.ledger == nil {
		return nil, errLedgerDisabled
	}
	return s.ledger.ListCertificates(ctx, targetID)
}

// History результаты заданий по цели из журнала
func (s *Service) History(ctx context.Context, targetID string) ([]wipe.Result, error) {
	if s.ledger == nil {
		return nil, errLedgerDisabled
	}
	return s.ledger.Results(ctx, targetID)
}

var errLedgerDisabled = errors.New("журнал выключен в конфигурации")

// Verify проверяет сертификат. Без явного ключа используется ключ из
// журнала по отпечатку или текущий ключ эмитента.
func (s *Service) Verify(ctx context.Context, cert *certificate.Certificate, pub *keys.PublicKey) (certificate.Verdict, error) {
	if pub != nil {
		return certificate.VerifyDetailed(cert, pub.Key), nil
	}
	if s.ledger != nil {
		v, err := s.ledger.VerifyCertificate(ctx, cert)
		if err == nil || !errors.Is(err, ledger.ErrUnknownIssuer) {
			return v, err
		}
	}
	if !s.keys.Loaded() {
		if _, err := os.Stat(s.cfg.Keys.KeystorePath); err == nil {
			if _, err := s.keys.Load(s.cfg.Keys.KeystorePath, s.cfg.Passphrase()); err != nil {
				s.logger.Log("WARN", "Ошибка загрузки ключа эмитента", "error", err.Error())
			}
		}
	}
	if s.keys.Loaded() {
		own, err := s.keys.ExportPublic()
		if err == nil && own.Fingerprint == cert.IssuerFingerprint {
			return certificate.VerifyDetailed(cert, own.Key), nil
		}
	}
	return certificate.Verdict{}, fmt.Errorf("ключ эмитента %s не найден: укажите публичный ключ", cert.IssuerFingerprint)
}

// Report формирует и сохраняет отчёт о запуске
func (s *Service) Report(ops []reporting.Operation, profile string, start time.Time, exitCode int) (string, error) {
	report := reporting.GenerateReport(ops, s.cfg, profile, start, s.now(), exitCode)
	path, err := reporting.SaveReport(report, s.cfg)
	if err != nil {
		return "", err
	}
	if path != "" {
		s.logger.Log("INFO", "Отчёт сохранён", "run_id", report.RunID, "file", path)
	}
	return path, nil
}
