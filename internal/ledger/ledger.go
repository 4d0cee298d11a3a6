// Package ledger хранит журнал заданий, выданных сертификатов и публичных
// ключей эмитента в SQLite. По отпечатку из сертификата журнал возвращает
// ровно тот ключ, которым сертификат подписан.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"wipecert_enterprise/internal/certificate"
	"wipecert_enterprise/internal/keys"
	"wipecert_enterprise/internal/wipe"
)

var (
	ErrNotFound       = errors.New("ledger: not found")
	ErrDuplicate      = errors.New("ledger: duplicate record")
	ErrUnknownIssuer  = errors.New("ledger: issuer key is not recorded")
	ErrKeyFingerprint = errors.New("ledger: fingerprint does not match key")
)

// Store журнал поверх SQLite. Время хранится как Unix-наносекунды (INTEGER),
// чтобы сортировка по нему была числовой.
type Store struct {
	db *sql.DB
}

// Open открывает (или создаёт) базу журнала
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// SQLite допускает одного писателя
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS issuer_keys (
		fingerprint TEXT PRIMARY KEY,
		pem TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS jobs (
		job_id TEXT PRIMARY KEY,
		target_id TEXT NOT NULL,
		pattern TEXT NOT NULL,
		final_state TEXT NOT NULL,
		bytes_written INTEGER NOT NULL,
		current_pass INTEGER NOT NULL,
		ended_at INTEGER NOT NULL,
		document TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS certificates (
		serial TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		fingerprint TEXT NOT NULL REFERENCES issuer_keys(fingerprint),
		signed_at INTEGER NOT NULL,
		document TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_certificates_target ON certificates(target_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_target ON jobs(target_id);`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to migrate ledger: %w", err)
	}
	return nil
}

// Close закрывает базу
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordKey сохраняет публичный ключ эмитента; повторная запись того же ключа допустима
func (s *Store) RecordKey(ctx context.Context, pub keys.PublicKey) error {
	fp, err := keys.Fingerprint(pub.Key)
	if err != nil {
		return err
	}
	if fp != pub.Fingerprint {
		return ErrKeyFingerprint
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO issuer_keys (fingerprint, pem, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(fingerprint) DO NOTHING`,
		pub.Fingerprint, string(pub.PEM), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record issuer key: %w", err)
	}
	return nil
}

// PublicKey возвращает ключ эмитента по отпечатку
func (s *Store) PublicKey(ctx context.Context, fingerprint string) (keys.PublicKey, error) {
	var pemText string
	err := s.db.QueryRowContext(ctx, `SELECT pem FROM issuer_keys WHERE fingerprint = ?`, fingerprint).Scan(&pemText)
	if errors.Is(err, sql.ErrNoRows) {
		return keys.PublicKey{}, fmt.Errorf("%w: %s", ErrUnknownIssuer, fingerprint)
	}
	if err != nil {
		return keys.PublicKey{}, fmt.Errorf("failed to query issuer key: %w", err)
	}
	pub, err := keys.ParsePublicKeyPEM([]byte(pemText))
	if err != nil {
		return keys.PublicKey{}, err
	}
	if pub.Fingerprint != fingerprint {
		return keys.PublicKey{}, ErrKeyFingerprint
	}
	return pub, nil
}

// RecordResult сохраняет результат любого задания, в том числе прерванного
func (s *Store) RecordResult(ctx context.Context, r wipe.Result) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, target_id, pattern, final_state, bytes_written, current_pass, ended_at, document)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.JobID, r.TargetID, string(r.Pattern), string(r.FinalState), int64(r.BytesWritten), r.CurrentPass,
		r.EndedAt.UnixNano(), string(doc))
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("%w: job %s", ErrDuplicate, r.JobID)
		}
		return fmt.Errorf("failed to record result: %w", err)
	}
	return nil
}

// Result возвращает записанный результат задания
func (s *Store) Result(ctx context.Context, jobID string) (wipe.Result, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM jobs WHERE job_id = ?`, jobID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return wipe.Result{}, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if err != nil {
		return wipe.Result{}, fmt.Errorf("failed to query result: %w", err)
	}
	var r wipe.Result
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return wipe.Result{}, fmt.Errorf("corrupted job record: %w", err)
	}
	return r, nil
}

// Results история заданий по цели, новые первыми
func (s *Store) Results(ctx context.Context, targetID string) ([]wipe.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document FROM jobs WHERE target_id = ? ORDER BY ended_at DESC, rowid DESC`, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []wipe.Result
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var r wipe.Result
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			return nil, fmt.Errorf("corrupted job record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordCertificate сохраняет выданный сертификат. Ключ эмитента должен быть записан заранее.
func (s *Store) RecordCertificate(ctx context.Context, c *certificate.Certificate) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal certificate: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO certificates (serial, job_id, target_id, fingerprint, signed_at, document)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.Serial, c.Result.JobID, c.Result.TargetID, c.IssuerFingerprint,
		c.SignedAt.UnixNano(), string(doc))
	if err != nil {
		if isConstraint(err) {
			if isForeignKey(err) {
				return fmt.Errorf("%w: %s", ErrUnknownIssuer, c.IssuerFingerprint)
			}
			if _, kerr := s.PublicKey(ctx, c.IssuerFingerprint); errors.Is(kerr, ErrUnknownIssuer) {
				return kerr
			}
			return fmt.Errorf("%w: certificate %s", ErrDuplicate, c.Serial)
		}
		return fmt.Errorf("failed to record certificate: %w", err)
	}
	return nil
}

// Certificate возвращает сертификат по серийному номеру
func (s *Store) Certificate(ctx context.Context, serial string) (*certificate.Certificate, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM certificates WHERE serial = ?`, serial).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: certificate %s", ErrNotFound, serial)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query certificate: %w", err)
	}
	return decodeCertificate(doc)
}

// ListCertificates сертификаты по цели (пустой targetID означает все), новые первыми
func (s *Store) ListCertificates(ctx context.Context, targetID string) ([]*certificate.Certificate, error) {
	query := `SELECT document FROM certificates`
	var args []any
	if targetID != "" {
		query += ` WHERE target_id = ?`
		args = append(args, targetID)
	}
	query += ` ORDER BY signed_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query certificates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*certificate.Certificate
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		c, err := decodeCertificate(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// VerifyCertificate проверяет сертификат ключом, найденным по его отпечатку
func (s *Store) VerifyCertificate(ctx context.Context, c *certificate.Certificate) (certificate.Verdict, error) {
	pub, err := s.PublicKey(ctx, c.IssuerFingerprint)
	if err != nil {
		return certificate.Verdict{}, err
	}
	return certificate.VerifyDetailed(c, pub.Key), nil
}

func decodeCertificate(doc string) (*certificate.Certificate, error) {
	var c certificate.Certificate
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return nil, fmt.Errorf("corrupted certificate record: %w", err)
	}
	return &c, nil
}

// isConstraint нарушение ограничения (первичный ключ, уникальность, внешний ключ).
// Драйвер возвращает расширенные коды, младший байт даёт основной.
func isConstraint(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

func isForeignKey(err error) bool {
	var serr *sqlite.Error
	return errors.As(err, &serr) && serr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}
