package wipe

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generatorProperties(t *testing.T) *gopter.Properties {
	t.Helper()
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 40
	return gopter.NewProperties(params)
}

func TestGeneratorCoversEveryPass(t *testing.T) {
	kinds := Kinds()
	properties := generatorProperties(t)

	properties.Property("each pass covers [0, length) exactly once in order", prop.ForAll(
		func(k int, length int, blockSize int) bool {
			kind := kinds[k]
			g, err := NewGenerator(Pattern{Kind: kind}, uint64(length), blockSize)
			if err != nil {
				return false
			}
			defer g.Discard()

			covered := make([]uint64, PassCount(kind))
			lastPass := 0
			for {
				blk, ok := g.Next()
				if !ok {
					break
				}
				if blk.PassIndex < lastPass || len(blk.Data) == 0 || len(blk.Data) > blockSize {
					return false
				}
				if blk.Offset != covered[blk.PassIndex] {
					return false
				}
				covered[blk.PassIndex] += uint64(len(blk.Data))
				lastPass = blk.PassIndex
			}
			for _, c := range covered {
				if c != uint64(length) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, len(kinds)-1),
		gen.IntRange(0, 64*1024),
		gen.IntRange(512, 8192),
	))

	properties.TestingRun(t)
}

func TestGeneratorMatchesExpectation(t *testing.T) {
	kinds := Kinds()
	properties := generatorProperties(t)

	properties.Property("written blocks equal the expected read-back bytes", prop.ForAll(
		func(k int, length int, blockSize int) bool {
			g, err := NewGenerator(Pattern{Kind: kinds[k]}, uint64(length), blockSize)
			if err != nil {
				return false
			}
			defer g.Discard()

			want := make([]byte, blockSize)
			for {
				blk, ok := g.Next()
				if !ok {
					return true
				}
				exp := want[:len(blk.Data)]
				g.Expectation(blk.PassIndex).Expected(exp, blk.Offset)
				if !bytes.Equal(exp, blk.Data) {
					return false
				}
			}
		},
		gen.IntRange(0, len(kinds)-1),
		gen.IntRange(1, 32*1024),
		gen.IntRange(512, 4096),
	))

	properties.TestingRun(t)
}

func TestGeneratorMultiBytePhase(t *testing.T) {
	// 3-байтовый шаблон и блок, не кратный 3
	const length = 10000
	g, err := NewGenerator(Pattern{Kind: PatternGutmann35}, length, 1000)
	require.NoError(t, err)
	defer g.Discard()

	unit := []byte{0x92, 0x49, 0x24}
	var pass6 []byte
	for {
		blk, ok := g.Next()
		if !ok {
			break
		}
		if blk.PassIndex == 6 {
			pass6 = append(pass6, blk.Data...)
		}
	}
	require.Len(t, pass6, length)
	for i, b := range pass6 {
		if b != unit[i%3] {
			t.Fatalf("byte %d = %#x, want %#x", i, b, unit[i%3])
		}
	}
}

func TestRandomPassIsReproducible(t *testing.T) {
	g, err := NewGenerator(Pattern{Kind: PatternRandomFill}, 1<<16, 4096)
	require.NoError(t, err)
	defer g.Discard()

	var written []byte
	for {
		blk, ok := g.Next()
		if !ok {
			break
		}
		written = append(written, blk.Data...)
	}
	assert.False(t, allBytes(written, 0))

	// Чтение с невыровненного смещения
	got := make([]byte, 777)
	g.Expectation(0).Expected(got, 12345)
	assert.Equal(t, written[12345:12345+777], got)
}

func TestGeneratorZeroLength(t *testing.T) {
	g, err := NewGenerator(Pattern{Kind: PatternDod3Pass}, 0, 4096)
	require.NoError(t, err)
	defer g.Discard()

	_, ok := g.Next()
	assert.False(t, ok)
}

func TestGeneratorRejectsUnknownPattern(t *testing.T) {
	_, err := NewGenerator(Pattern{Kind: "bogus"}, 1, 512)
	assert.Error(t, err)

	_, err = NewGenerator(Pattern{Kind: PatternZeroFill}, 1, 0)
	assert.Error(t, err)
}
