package wipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassCount(t *testing.T) {
	cases := map[PatternKind]int{
		PatternZeroFill:   1,
		PatternOneFill:    1,
		PatternRandomFill: 1,
		PatternNistClear:  1,
		PatternNistPurge:  1,
		PatternDod3Pass:   3,
		PatternDod7Pass:   7,
		PatternGutmann35:  35,
	}
	for kind, want := range cases {
		assert.Equal(t, want, PassCount(kind), kind)
	}
	assert.Len(t, Kinds(), len(cases))
	assert.Zero(t, PassCount("rot13"))
}

func TestParsePattern(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParsePattern(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
		assert.NotContains(t, Description(k), "Unknown")
	}

	_, err := ParsePattern("schneier_7")
	assert.Error(t, err)
}

func TestDod3Passes(t *testing.T) {
	passes, err := Pattern{Kind: PatternDod3Pass}.Passes()
	require.NoError(t, err)
	require.Len(t, passes, 3)

	assert.Equal(t, FillFixed, passes[0].Fill)
	assert.Equal(t, []byte{0x00}, passes[0].Unit)
	assert.Equal(t, FillComplement, passes[1].Fill)
	assert.Equal(t, []byte{0xFF}, passes[1].Unit)
	assert.Equal(t, FillRandom, passes[2].Fill)
}

func TestDod7Passes(t *testing.T) {
	passes, err := Pattern{Kind: PatternDod7Pass}.Passes()
	require.NoError(t, err)
	require.Len(t, passes, 7)

	for i, p := range passes {
		assert.Equal(t, i, p.Index)
		assert.Equal(t, i == 2, p.VerifyAfter, "pass %d", i)
	}
	assert.Equal(t, []byte{0x92}, passes[2].Unit)
	assert.Equal(t, FillRandom, passes[6].Fill)
}

func TestGutmannOrder(t *testing.T) {
	passes, err := Pattern{Kind: PatternGutmann35}.Passes()
	require.NoError(t, err)
	require.Len(t, passes, 35)

	for _, i := range []int{0, 1, 2, 3, 31, 32, 33, 34} {
		assert.Equal(t, FillRandom, passes[i].Fill, "pass %d", i)
	}
	assert.Equal(t, []byte{0x55}, passes[4].Unit)
	assert.Equal(t, []byte{0xAA}, passes[5].Unit)
	assert.Equal(t, []byte{0x92, 0x49, 0x24}, passes[6].Unit)
	assert.Equal(t, []byte{0x49, 0x24, 0x92}, passes[7].Unit)
	assert.Equal(t, []byte{0x24, 0x92, 0x49}, passes[8].Unit)
	for i := 0; i < 16; i++ {
		assert.Equal(t, []byte{byte(i * 0x11)}, passes[9+i].Unit, "pass %d", 9+i)
	}
	assert.Equal(t, []byte{0x92, 0x49, 0x24}, passes[25].Unit)
	assert.Equal(t, []byte{0x6D, 0xB6, 0xDB}, passes[28].Unit)
	assert.Equal(t, []byte{0xDB, 0x6D, 0xB6}, passes[30].Unit)
}

func TestRecommend(t *testing.T) {
	rec := Recommend(MediaSSD, "")
	assert.Equal(t, PatternNistPurge, rec.Pattern.Kind)
	assert.True(t, rec.Pattern.SecureEraseHint)
	assert.Empty(t, rec.Warning)

	rec = Recommend(MediaSSD, PatternGutmann35)
	assert.Equal(t, PatternGutmann35, rec.Pattern.Kind)
	assert.NotEmpty(t, rec.Warning)

	rec = Recommend(MediaHDD, "")
	assert.Equal(t, PatternNistClear, rec.Pattern.Kind)
	assert.False(t, rec.Pattern.SecureEraseHint)

	rec = Recommend(MediaHDD, PatternDod7Pass)
	assert.Equal(t, PatternDod7Pass, rec.Pattern.Kind)
	assert.Empty(t, rec.Warning)

	rec = Recommend(MediaFile, "")
	assert.Equal(t, PatternNistClear, rec.Pattern.Kind)
}

func TestEstimateWrite(t *testing.T) {
	est, err := EstimateWrite(PatternDod7Pass, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, 7, est.Passes)
	assert.Equal(t, uint64(7<<20), est.BytesPerRun)

	_, err = EstimateWrite("unknown", 1)
	assert.Error(t, err)
}

func TestParseMediaKind(t *testing.T) {
	assert.Equal(t, MediaSSD, ParseMediaKind("nvme"))
	assert.Equal(t, MediaHDD, ParseMediaKind("HDD"))
	assert.Equal(t, MediaUnknown, ParseMediaKind("tape"))
}
