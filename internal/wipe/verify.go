package wipe

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
)

const (
	// DefaultSampleRatio доля проверяемых блоков по умолчанию
	DefaultSampleRatio = 0.01
	// DefaultMinBlocks минимальное число проверяемых блоков
	DefaultMinBlocks = 16
)

// Sampler reads back a subset of blocks and compares them with the bytes the
// final pass is expected to have left. A ratio of 1 or more reads every block.
type Sampler struct {
	Ratio     float64
	MinBlocks int
	BlockSize int
}

// Verify выполняет выборочную проверку. Несовпадения не повторяются,
// а только возвращаются в результате.
func (s Sampler) Verify(ctx context.Context, r io.ReaderAt, length uint64, exp Expectation) (VerificationOutcome, error) {
	bs := s.BlockSize
	if bs <= 0 {
		bs = DefaultChunkSize
	}
	out := VerificationOutcome{BlockSize: bs, FirstMismatchOffset: -1}
	if length == 0 {
		return out, nil
	}

	total := int64((length + uint64(bs) - 1) / uint64(bs))
	indices, err := s.pick(total)
	if err != nil {
		return out, err
	}

	got := GetBuffer(bs)
	defer PutBuffer(got)
	want := GetBuffer(bs)
	defer PutBuffer(want)
	digest := sha256.New()

	for _, idx := range indices {
		select {
		case <-ctx.Done():
			return out, ErrCancelled
		default:
		}

		off := uint64(idx) * uint64(bs)
		n := bs
		if rem := length - off; rem < uint64(n) {
			n = int(rem)
		}

		read, err := r.ReadAt(got[:n], int64(off))
		if err != nil && !(errors.Is(err, io.EOF) && read == n) {
			return out, fmt.Errorf("ошибка чтения при проверке, смещение %d: %w", off, err)
		}

		exp.Expected(want[:n], off)
		digest.Write(got[:n])
		out.SampledBlocks++
		if !bytes.Equal(got[:n], want[:n]) {
			out.MismatchedBlocks++
			if out.FirstMismatchOffset < 0 {
				out.FirstMismatchOffset = int64(off)
			}
		}
	}

	out.SampleRatio = float64(out.SampledBlocks) / float64(total)
	out.Digest = hex.EncodeToString(digest.Sum(nil))
	return out, nil
}

// pick returns sorted block indices: always the first and the last block,
// the rest one random block per equal-width stratum.
func (s Sampler) pick(total int64) ([]int64, error) {
	want := total
	if s.Ratio < 1 {
		ratio := s.Ratio
		if ratio <= 0 {
			ratio = DefaultSampleRatio
		}
		want = int64(float64(total)*ratio + 0.999999)
		minBlocks := int64(s.MinBlocks)
		if minBlocks <= 0 {
			minBlocks = DefaultMinBlocks
		}
		if want < minBlocks {
			want = minBlocks
		}
		if want > total {
			want = total
		}
	}

	if want == total {
		indices := make([]int64, total)
		for i := range indices {
			indices[i] = int64(i)
		}
		return indices, nil
	}

	indices := []int64{0}
	inner := total - 2
	strata := want - 2
	for i := int64(0); i < strata; i++ {
		lo := 1 + i*inner/strata
		hi := 1 + (i+1)*inner/strata
		if hi <= lo {
			continue
		}
		n, err := rand.Int(rand.Reader, big.NewInt(hi-lo))
		if err != nil {
			return nil, fmt.Errorf("ошибка выбора блоков для проверки: %w", err)
		}
		indices = append(indices, lo+n.Int64())
	}
	return append(indices, total-1), nil
}
