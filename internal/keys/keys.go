// Package keys управляет ключевой парой эмитента сертификатов: генерация,
// хранение PKCS#8 PEM (опционально зашифрованного паролем), экспорт
// публичного ключа и подпись RSA-PSS.
package keys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

const (
	// DefaultBits размер ключа по умолчанию
	DefaultBits = 3072
	// MinBits минимально допустимый размер ключа
	MinBits = 2048

	pemPrivate   = "PRIVATE KEY"
	pemPublic    = "PUBLIC KEY"
	fingerprintP = "SHA256:"
)

var (
	ErrNoKey         = errors.New("issuer key is not loaded")
	ErrBadPassphrase = errors.New("keystore passphrase is wrong or keystore is corrupted")
	ErrKeyTooSmall   = errors.New("rsa key is smaller than 2048 bits")
	ErrNotRSA        = errors.New("key is not an RSA key")
)

// PSSOptions параметры RSA-PSS, общие для подписи и проверки
var PSSOptions = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}

// PublicKey экспортируемая часть ключа эмитента
type PublicKey struct {
	Key         *rsa.PublicKey
	Fingerprint string
	PEM         []byte
}

// String печатает только отпечаток
func (p PublicKey) String() string { return p.Fingerprint }

// MarshalZerologObject пишет в лог только отпечаток и размер ключа
func (p PublicKey) MarshalZerologObject(e *zerolog.Event) {
	e.Str("fingerprint", p.Fingerprint)
	if p.Key != nil {
		e.Int("bits", p.Key.N.BitLen())
	}
}

// Manager хранит приватный ключ эмитента в памяти
type Manager struct {
	mu  sync.RWMutex
	key *rsa.PrivateKey
	pub PublicKey
}

// NewManager пустой менеджер без ключа
func NewManager() *Manager {
	return &Manager{}
}

// String печатает только отпечаток текущего ключа; приватная часть не выводится
func (m *Manager) String() string {
	pub, err := m.ExportPublic()
	if err != nil {
		return "keys.Manager(no key)"
	}
	return "keys.Manager(" + pub.Fingerprint + ")"
}

// GoString закрывает %#v
func (m *Manager) GoString() string { return m.String() }

// MarshalZerologObject пишет в лог только данные публичного ключа
func (m *Manager) MarshalZerologObject(e *zerolog.Event) {
	pub, err := m.ExportPublic()
	if err != nil {
		e.Bool("loaded", false)
		return
	}
	e.Bool("loaded", true)
	pub.MarshalZerologObject(e)
}

// Generate создаёт новую ключевую пару и делает её текущей
func (m *Manager) Generate(bits int) (PublicKey, error) {
	if bits == 0 {
		bits = DefaultBits
	}
	if bits < MinBits {
		return PublicKey{}, ErrKeyTooSmall
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return PublicKey{}, fmt.Errorf("generate rsa key: %w", err)
	}
	return m.set(key)
}

// Import делает переданный ключ текущим
func (m *Manager) Import(key *rsa.PrivateKey) (PublicKey, error) {
	if key == nil {
		return PublicKey{}, ErrNoKey
	}
	if key.N.BitLen() < MinBits {
		return PublicKey{}, ErrKeyTooSmall
	}
	return m.set(key)
}

func (m *Manager) set(key *rsa.PrivateKey) (PublicKey, error) {
	pub, err := exportPublic(&key.PublicKey)
	if err != nil {
		return PublicKey{}, err
	}
	m.mu.Lock()
	m.key = key
	m.pub = pub
	m.mu.Unlock()
	return pub, nil
}

// Loaded есть ли ключ
func (m *Manager) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.key != nil
}

// ExportPublic возвращает публичный ключ и его отпечаток
func (m *Manager) ExportPublic() (PublicKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.key == nil {
		return PublicKey{}, ErrNoKey
	}
	return m.pub, nil
}

// Sign подписывает SHA-256 дайджест схемой RSA-PSS
func (m *Manager) Sign(digest []byte) ([]byte, error) {
	m.mu.RLock()
	key := m.key
	m.mu.RUnlock()
	if key == nil {
		return nil, ErrNoKey
	}
	if len(digest) != sha256.Size {
		return nil, fmt.Errorf("digest must be %d bytes, got %d", sha256.Size, len(digest))
	}
	sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest, PSSOptions)
	if err != nil {
		return nil, fmt.Errorf("rsa-pss sign: %w", err)
	}
	return sig, nil
}

// Save сохраняет приватный ключ. Пустой пароль даёт обычный PKCS#8 PEM,
// иначе ключ шифруется (см. seal).
func (m *Manager) Save(path string, passphrase []byte) error {
	m.mu.RLock()
	key := m.key
	m.mu.RUnlock()
	if key == nil {
		return ErrNoKey
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal pkcs8: %w", err)
	}

	block := &pem.Block{Type: pemPrivate, Bytes: der}
	if len(passphrase) > 0 {
		block, err = seal(der, passphrase)
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create keystore directory: %w", err)
	}
	// Пишем во временный файл и переименовываем, чтобы не оставить обрезанный ключ
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, pem.EncodeToMemory(block), 0600); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write keystore: %w", err)
	}
	return nil
}

// Load читает хранилище ключа
func (m *Manager) Load(path string, passphrase []byte) (PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PublicKey{}, fmt.Errorf("read keystore: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return PublicKey{}, fmt.Errorf("keystore %s: no PEM block", path)
	}

	der := block.Bytes
	switch block.Type {
	case pemPrivate:
	case pemEncrypted:
		if len(passphrase) == 0 {
			return PublicKey{}, ErrBadPassphrase
		}
		der, err = open(block, passphrase)
		if err != nil {
			return PublicKey{}, err
		}
	default:
		return PublicKey{}, fmt.Errorf("keystore %s: unexpected PEM block %q", path, block.Type)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return PublicKey{}, fmt.Errorf("parse pkcs8: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return PublicKey{}, ErrNotRSA
	}
	return m.Import(key)
}

// LoadOrGenerate загружает ключ или создаёт и сохраняет новый
func (m *Manager) LoadOrGenerate(path string, passphrase []byte, bits int) (PublicKey, bool, error) {
	if _, err := os.Stat(path); err == nil {
		pub, err := m.Load(path, passphrase)
		return pub, false, err
	} else if !os.IsNotExist(err) {
		return PublicKey{}, false, fmt.Errorf("stat keystore: %w", err)
	}
	pub, err := m.Generate(bits)
	if err != nil {
		return PublicKey{}, false, err
	}
	if err := m.Save(path, passphrase); err != nil {
		return PublicKey{}, false, err
	}
	return pub, true, nil
}

// Fingerprint "SHA256:" + hex от DER (PKIX) публичного ключа
func Fingerprint(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return fingerprintP + hex.EncodeToString(sum[:]), nil
}

// ParsePublicKeyPEM разбирает экспортированный публичный ключ
func ParsePublicKeyPEM(data []byte) (PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemPublic {
		return PublicKey{}, errors.New("no PUBLIC KEY PEM block")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return PublicKey{}, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return PublicKey{}, ErrNotRSA
	}
	return exportPublic(pub)
}

// VerifyPSS проверяет подпись RSA-PSS над SHA-256 дайджестом
func VerifyPSS(pub *rsa.PublicKey, digest, sig []byte) error {
	return rsa.VerifyPSS(pub, crypto.SHA256, digest, sig, PSSOptions)
}

func exportPublic(pub *rsa.PublicKey) (PublicKey, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return PublicKey{}, fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return PublicKey{
		Key:         pub,
		Fingerprint: fingerprintP + hex.EncodeToString(sum[:]),
		PEM:         pem.EncodeToMemory(&pem.Block{Type: pemPublic, Bytes: der}),
	}, nil
}
