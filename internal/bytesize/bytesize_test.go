package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		input string
		want  ByteSize
	}{
		{"0", 0},
		{"1024", 1024},
		{"1024B", 1024},
		{"1Ki", KiB},
		{"1KiB", KiB},
		{"100Mi", 100 * MiB},
		{"1Gi", GiB},
		{"1TiB", TiB},
		{"1K", KB},
		{"100MB", 100 * MB},
		{"1GB", GB},
		{"1TB", TB},
		{"1gi", GiB},
		{"1GI", GiB},
		{"  1Gi", GiB},
		{"1Gi  ", GiB},
		{"1 Gi", GiB},
		{"1.5Mi", ByteSize(1.5 * float64(MiB))},
		{"0.5Gi", ByteSize(0.5 * float64(GiB))},
		{"512Ki", 512 * KiB},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseByteSizeRejectsMalformed(t *testing.T) {
	for _, input := range []string{"", "   ", "1Xi", "-1Gi", "Gi", "abc"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseByteSize(input)
			assert.Error(t, err)
		})
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("1Gi")))
	assert.Equal(t, GiB, b)

	assert.Error(t, b.UnmarshalText([]byte("invalid")))
}

func TestString(t *testing.T) {
	tests := []struct {
		input ByteSize
		want  string
	}{
		{512, "512B"},
		{2 * KiB, "2.00KiB"},
		{100 * MiB, "100.00MiB"},
		{GiB, "1.00GiB"},
		{ByteSize(1.5 * float64(GiB)), "1.50GiB"},
		{2 * TiB, "2.00TiB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.input.String())
	}
}

func TestConversions(t *testing.T) {
	assert.Equal(t, uint64(GiB), GiB.Uint64())
	assert.Equal(t, int64(GiB), GiB.Int64())
}
