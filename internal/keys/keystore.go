package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strconv"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pemEncrypted = "WIPECERT ENCRYPTED PRIVATE KEY"

	kdfName  = "pbkdf2-sha256"
	saltSize = 16
	keySize  = chacha20poly1305.KeySize
)

// KDFIterations число итераций PBKDF2 для новых хранилищ
var KDFIterations = 600000

// seal шифрует PKCS#8 DER ключом, выведенным из пароля (XChaCha20-Poly1305).
// Параметры KDF и nonce лежат в заголовках PEM блока.
func seal(der, passphrase []byte) (*pem.Block, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt, KDFIterations))
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	headers := map[string]string{
		"KDF":        kdfName,
		"Iterations": strconv.Itoa(KDFIterations),
		"Salt":       base64.StdEncoding.EncodeToString(salt),
		"Nonce":      base64.StdEncoding.EncodeToString(nonce),
	}
	// Тип блока служит AAD
	ct := aead.Seal(nil, nonce, der, []byte(pemEncrypted))
	return &pem.Block{Type: pemEncrypted, Headers: headers, Bytes: ct}, nil
}

func open(block *pem.Block, passphrase []byte) ([]byte, error) {
	if block.Headers["KDF"] != kdfName {
		return nil, fmt.Errorf("unsupported keystore kdf %q", block.Headers["KDF"])
	}
	iter, err := strconv.Atoi(block.Headers["Iterations"])
	if err != nil || iter <= 0 {
		return nil, fmt.Errorf("invalid keystore iterations %q", block.Headers["Iterations"])
	}
	salt, err := base64.StdEncoding.DecodeString(block.Headers["Salt"])
	if err != nil || len(salt) == 0 {
		return nil, fmt.Errorf("invalid keystore salt")
	}
	nonce, err := base64.StdEncoding.DecodeString(block.Headers["Nonce"])
	if err != nil || len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("invalid keystore nonce")
	}

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt, iter))
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	der, err := aead.Open(nil, nonce, block.Bytes, []byte(pemEncrypted))
	if err != nil {
		return nil, ErrBadPassphrase
	}
	return der, nil
}

func deriveKey(passphrase, salt []byte, iter int) []byte {
	return pbkdf2.Key(passphrase, salt, iter, keySize, sha256.New)
}
