package diffscript

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffApplyRoundTrip(t *testing.T) {
	cases := [][2][]string{
		{{"a", "b", "c"}, {"a", "b", "c"}},
		{{"a", "b", "c"}, {"a", "x", "b", "c"}},
		{{"a", "b", "c"}, {"a", "c"}},
		{{}, {"a", "b"}},
		{{"a", "b"}, {}},
		{{"a", "b", "c", "d"}, {"d", "c", "b", "a"}},
	}
	for _, tc := range cases {
		oldSeq, newSeq := tc[0], tc[1]
		baseLength, ops := Diff(oldSeq, newSeq)
		assert.Equal(t, len(oldSeq), baseLength)
		got := Apply(oldSeq, baseLength, ops)
		assert.Equal(t, newSeq, got)
	}
}

func TestDiffIdenticalSequencesProduceNoOps(t *testing.T) {
	_, ops := Diff([]string{"a", "b"}, []string{"a", "b"})
	assert.Empty(t, ops)
}

func TestDiffAppendOnly(t *testing.T) {
	_, ops := Diff([]string{"a"}, []string{"a", "b"})
	assert.Equal(t, []Op{{Kind: opInsert, At: 1, IDs: []string{"b"}}}, ops)
}
