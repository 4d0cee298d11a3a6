package wipe

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// PatternKind определяет метод заполнения данных
type PatternKind string

const (
	PatternZeroFill   PatternKind = "zero_fill"
	PatternOneFill    PatternKind = "one_fill"
	PatternRandomFill PatternKind = "random_fill"
	PatternNistClear  PatternKind = "nist_clear"
	PatternNistPurge  PatternKind = "nist_purge"
	PatternDod3Pass   PatternKind = "dod_3pass"
	PatternDod7Pass   PatternKind = "dod_7pass"
	PatternGutmann35  PatternKind = "gutmann_35"
)

// FillKind тип заполнения прохода
type FillKind int

const (
	FillFixed FillKind = iota
	FillComplement
	FillRandom
)

func (f FillKind) String() string {
	switch f {
	case FillFixed:
		return "fixed"
	case FillComplement:
		return "complement"
	case FillRandom:
		return "random"
	default:
		return "unknown"
	}
}

// Pass описывает один проход. Для Fixed и Complement Unit содержит
// повторяющийся шаблон, выровненный по смещению 0 прохода.
type Pass struct {
	Index       int
	Fill        FillKind
	Unit        []byte
	VerifyAfter bool
}

func (p Pass) String() string {
	if p.Fill == FillRandom {
		return fmt.Sprintf("#%d random", p.Index+1)
	}
	return fmt.Sprintf("#%d %s %X", p.Index+1, p.Fill, p.Unit)
}

// Pattern выбранный метод затирания
type Pattern struct {
	Kind            PatternKind `json:"kind"`
	SecureEraseHint bool        `json:"secure_erase_hint"`
}

type step struct {
	fill        FillKind
	unit        []byte
	verifyAfter bool
}

func fixed(unit ...byte) step { return step{fill: FillFixed, unit: unit} }
func complement() step        { return step{fill: FillComplement} }
func random() step            { return step{fill: FillRandom} }

func (s step) verified() step {
	s.verifyAfter = true
	return s
}

var catalogue = map[PatternKind][]step{
	PatternZeroFill:   {fixed(0x00)},
	PatternOneFill:    {fixed(0xFF)},
	PatternRandomFill: {random()},
	PatternNistClear:  {fixed(0x00)},
	PatternNistPurge:  {random()},
	PatternDod3Pass:   {fixed(0x00), complement(), random()},
	// Проверка обязательна между 3-м и 4-м проходами
	PatternDod7Pass: {
		fixed(0x00), complement(), fixed(0x92).verified(),
		fixed(0x49), fixed(0x24), fixed(0x00), random(),
	},
	PatternGutmann35: gutmannSteps(),
}

// gutmannSteps фиксированная историческая последовательность из 35 проходов
func gutmannSteps() []step {
	steps := []step{random(), random(), random(), random()}
	steps = append(steps,
		fixed(0x55),
		fixed(0xAA),
		fixed(0x92, 0x49, 0x24),
		fixed(0x49, 0x24, 0x92),
		fixed(0x24, 0x92, 0x49),
	)
	for b := 0x00; b <= 0xFF; b += 0x11 {
		steps = append(steps, fixed(byte(b)))
	}
	steps = append(steps,
		fixed(0x92, 0x49, 0x24),
		fixed(0x49, 0x24, 0x92),
		fixed(0x24, 0x92, 0x49),
		fixed(0x6D, 0xB6, 0xDB),
		fixed(0xB6, 0xDB, 0x6D),
		fixed(0xDB, 0x6D, 0xB6),
	)
	return append(steps, random(), random(), random(), random())
}

var descriptions = map[PatternKind]string{
	PatternZeroFill:   "Single pass with zeros (0x00)",
	PatternOneFill:    "Single pass with ones (0xFF)",
	PatternRandomFill: "Single pass with random data",
	PatternNistClear:  "NIST SP 800-88 Clear (single fixed-byte pass)",
	PatternNistPurge:  "NIST SP 800-88 Purge (random pass, secure-erase recommended)",
	PatternDod3Pass:   "DoD 5220.22-M 3-pass (0x00, complement, random)",
	PatternDod7Pass:   "DoD 5220.22-M 7-pass (verified after pass 3)",
	PatternGutmann35:  "Gutmann 35-pass method (legacy)",
}

// Kinds возвращает все поддерживаемые методы в стабильном порядке
func Kinds() []PatternKind {
	return []PatternKind{
		PatternZeroFill, PatternOneFill, PatternRandomFill, PatternNistClear,
		PatternNistPurge, PatternDod3Pass, PatternDod7Pass, PatternGutmann35,
	}
}

// ParsePattern проверяет корректность метода
func ParsePattern(s string) (PatternKind, error) {
	k := PatternKind(s)
	if _, ok := catalogue[k]; !ok {
		return "", fmt.Errorf("неподдерживаемый метод затирания: %s", s)
	}
	return k, nil
}

// Description человекочитаемое описание метода
func Description(k PatternKind) string {
	if d, ok := descriptions[k]; ok {
		return d
	}
	return fmt.Sprintf("Unknown pattern: %s", k)
}

// PassCount возвращает количество проходов для метода
func PassCount(k PatternKind) int {
	return len(catalogue[k])
}

// Passes разворачивает метод в упорядоченный список проходов
func (p Pattern) Passes() ([]Pass, error) {
	steps, ok := catalogue[p.Kind]
	if !ok {
		return nil, fmt.Errorf("неизвестный метод затирания: %s", p.Kind)
	}

	passes := make([]Pass, len(steps))
	for i, s := range steps {
		pass := Pass{Index: i, Fill: s.fill, VerifyAfter: s.verifyAfter}
		switch s.fill {
		case FillFixed:
			pass.Unit = append([]byte(nil), s.unit...)
		case FillComplement:
			if i == 0 || passes[i-1].Fill == FillRandom {
				return nil, fmt.Errorf("complement pass %d has no fixed predecessor", i)
			}
			prev := passes[i-1].Unit
			pass.Unit = make([]byte, len(prev))
			for j, b := range prev {
				pass.Unit[j] = ^b
			}
		}
		passes[i] = pass
	}
	return passes, nil
}

// Expectation produces the bytes a pass is expected to have left at offset.
type Expectation interface {
	Expected(dst []byte, offset uint64)
}

// passFill source of a single pass's bytes
type passFill struct {
	pass     Pass
	stream   *randomStream
	template []byte
}

func newPassFill(p Pass, blockSize int) (*passFill, error) {
	pf := &passFill{pass: p}
	if p.Fill == FillRandom {
		s, err := newRandomStream()
		if err != nil {
			return nil, err
		}
		pf.stream = s
		return pf, nil
	}
	// Один шаблонный блок на проход, с запасом на сдвиг фазы шаблона
	unit := len(p.Unit)
	pf.template = make([]byte, blockSize+unit-1)
	for i := range pf.template {
		pf.template[i] = p.Unit[i%unit]
	}
	return pf, nil
}

// block returns the data for [offset, offset+n). Fixed passes return a view
// into the template; random passes fill scratch.
func (pf *passFill) block(scratch []byte, offset uint64, n int) []byte {
	if pf.stream != nil {
		b := scratch[:n]
		pf.stream.fill(b, offset)
		return b
	}
	phase := int(offset % uint64(len(pf.pass.Unit)))
	if phase+n <= len(pf.template) {
		return pf.template[phase : phase+n]
	}
	b := scratch[:n]
	pf.Expected(b, offset)
	return b
}

// Expected implements Expectation.
func (pf *passFill) Expected(dst []byte, offset uint64) {
	if pf.stream != nil {
		pf.stream.fill(dst, offset)
		return
	}
	unit := pf.pass.Unit
	phase := int(offset % uint64(len(unit)))
	for i := range dst {
		dst[i] = unit[(phase+i)%len(unit)]
	}
}

func (pf *passFill) discard() {
	if pf.stream != nil {
		pf.stream.discard()
		pf.stream = nil
	}
}

// randomStream AES-256-CTR поток с новым ключом из crypto/rand на каждый проход.
// Поток позиционируемый, поэтому проверка может восстановить ожидаемые байты.
type randomStream struct {
	block cipher.Block
	key   []byte
	iv    [aes.BlockSize]byte
}

func newRandomStream() (*randomStream, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("ошибка генерации случайных данных: %w", err)
	}
	s := &randomStream{key: key}
	if _, err := rand.Read(s.iv[:]); err != nil {
		return nil, fmt.Errorf("ошибка генерации случайных данных: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	s.block = block
	return s, nil
}

func (s *randomStream) fill(dst []byte, offset uint64) {
	iv := addCounter(s.iv, offset/aes.BlockSize)
	ctr := cipher.NewCTR(s.block, iv[:])
	if skip := int(offset % aes.BlockSize); skip > 0 {
		var scratch [aes.BlockSize]byte
		ctr.XORKeyStream(scratch[:skip], scratch[:skip])
	}
	clear(dst)
	ctr.XORKeyStream(dst, dst)
}

func (s *randomStream) discard() {
	clear(s.key)
	s.block = nil
}

func addCounter(iv [aes.BlockSize]byte, n uint64) [aes.BlockSize]byte {
	hi := binary.BigEndian.Uint64(iv[:8])
	lo := binary.BigEndian.Uint64(iv[8:])
	sum := lo + n
	if sum < lo {
		hi++
	}
	var out [aes.BlockSize]byte
	binary.BigEndian.PutUint64(out[:8], hi)
	binary.BigEndian.PutUint64(out[8:], sum)
	return out
}
