package wipe

import (
	"errors"
	"fmt"
)

// Block один блок данных прохода. Data действителен до следующего вызова Next.
type Block struct {
	PassIndex int
	Offset    uint64
	Data      []byte
}

// Generator lazily yields the blocks of every pass of a pattern over a target
// of fixed length. It is finite and cannot be restarted.
type Generator struct {
	passes    []Pass
	fills     []*passFill
	length    uint64
	blockSize int
	scratch   []byte

	pass   int
	offset uint64
	done   bool
}

// NewGenerator готовит генератор; ключи случайных проходов создаются сразу
func NewGenerator(p Pattern, length uint64, blockSize int) (*Generator, error) {
	if blockSize <= 0 {
		return nil, errors.New("block size must be positive")
	}
	passes, err := p.Passes()
	if err != nil {
		return nil, err
	}

	g := &Generator{
		passes:    passes,
		fills:     make([]*passFill, len(passes)),
		length:    length,
		blockSize: blockSize,
		scratch:   GetBuffer(blockSize),
		done:      length == 0,
	}
	for i, pass := range passes {
		pf, err := newPassFill(pass, blockSize)
		if err != nil {
			g.Discard()
			return nil, fmt.Errorf("pass %d: %w", i, err)
		}
		g.fills[i] = pf
	}
	return g, nil
}

// Passes возвращает развёрнутый список проходов
func (g *Generator) Passes() []Pass {
	return g.passes
}

// Expectation returns the fill of pass i for read-back comparison.
func (g *Generator) Expectation(i int) Expectation {
	return g.fills[i]
}

// Next returns the next block or false once every pass has covered the length.
func (g *Generator) Next() (Block, bool) {
	if g.done {
		return Block{}, false
	}

	remaining := g.length - g.offset
	n := g.blockSize
	if remaining < uint64(n) {
		n = int(remaining)
	}

	b := Block{
		PassIndex: g.pass,
		Offset:    g.offset,
		Data:      g.fills[g.pass].block(g.scratch, g.offset, n),
	}

	g.offset += uint64(n)
	if g.offset >= g.length {
		g.offset = 0
		g.pass++
		if g.pass >= len(g.passes) {
			g.done = true
		}
	}
	return b, true
}

// Discard forgets random pass keys and returns the scratch buffer to the pool.
func (g *Generator) Discard() {
	for _, pf := range g.fills {
		if pf != nil {
			pf.discard()
		}
	}
	if g.scratch != nil {
		PutBuffer(g.scratch)
		g.scratch = nil
	}
	g.done = true
}
