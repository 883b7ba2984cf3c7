package compression_test

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	c "github.com/dargueta/volumefs/utilities/compression"
	"github.com/noxer/bytewriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressRLE8__Basic(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected []byte
	}{
		{"empty", []byte{}, []byte{}},
		{"pair_only", []byte{4, 4}, []byte{4, 4, 0}},
		{"no_runs", []byte{0, 1, 2, 3, 4}, []byte{0, 1, 2, 3, 4}},
		{"pair_at_end", []byte{6, 1, 3, 0, 0}, []byte{6, 1, 3, 0, 0, 0}},
		{"triple_at_end", []byte{6, 1, 0, 0, 0}, []byte{6, 1, 0, 0, 1}},
		{"short_run", []byte{9, 5, 5, 5, 5, 5, 3, 7}, []byte{9, 5, 5, 3, 3, 7}},
		{
			"adjacent_runs",
			[]byte{9, 5, 5, 5, 5, 5, 5, 3, 3, 3, 3, 7, 2, 6},
			[]byte{9, 5, 5, 4, 3, 3, 2, 7, 2, 6},
		},
		{
			"long_run",
			bytes.Repeat([]byte{5}, 1024),
			[]byte{5, 5, 255, 5, 5, 255, 5, 5, 255, 5, 5, 251},
		},
		{"run_257", bytes.Repeat([]byte{8}, 257), []byte{8, 8, 255}},
		{"run_258", bytes.Repeat([]byte{8}, 258), []byte{8, 8, 255, 8}},
		{"run_259", bytes.Repeat([]byte{8}, 259), []byte{8, 8, 255, 8, 8, 0}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			output := bytes.Buffer{}
			n, err := c.CompressRLE8(bytes.NewReader(test.input), &output)
			require.NoError(t, err)
			assert.EqualValues(t, len(test.expected), n, "reported size is wrong")
			// An untouched buffer returns nil rather than an empty slice.
			assert.True(
				t,
				bytes.Equal(test.expected, output.Bytes()),
				"expected %v, got %v",
				test.expected,
				output.Bytes(),
			)
		})
	}
}

func TestRLE8RoundTrip(t *testing.T) {
	random := make([]byte, 1852)
	rand.Read(random)

	inputs := map[string][]byte{
		"random":       random,
		"all_nulls":    make([]byte, 571),
		"non_null_run": bytes.Repeat([]byte{182}, 934),
		"empty":        {},
	}

	for name, original := range inputs {
		t.Run(name, func(t *testing.T) {
			// Random input can grow by up to half when compressed.
			compressed := make([]byte, len(original)*2)
			n, err := c.CompressRLE8(bytes.NewReader(original), bytewriter.New(compressed))
			require.NoError(t, err)

			decompressed := bytes.Buffer{}
			m, err := c.DecompressRLE8(bytes.NewReader(compressed[:n]), &decompressed)
			require.NoError(t, err)
			assert.EqualValues(t, len(original), m)
			assert.True(t, bytes.Equal(original, decompressed.Bytes()), "round trip changed data")
		})
	}
}

func TestRLE8Decompress__MissingRepeatCount(t *testing.T) {
	_, err := c.DecompressRLE8(bytes.NewReader([]byte{9, 1, 4, 4}), io.Discard)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
