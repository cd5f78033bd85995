package input

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_KeepsBufferedLines(t *testing.T) {
	t.Parallel()

	r := NewReader(strings.NewReader("first\r\nsecond\nlast"))

	for _, want := range []string{"first", "second", "last"} {
		got, err := r.ReadLine(t.Context())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := r.ReadLine(t.Context())
	require.ErrorIs(t, err, io.EOF)
	_, err = r.ReadLine(t.Context())
	require.ErrorIs(t, err, io.EOF)
}

func TestReader_Cancelled(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer pw.Close()
	r := NewReader(pr)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := r.ReadLine(ctx)
	require.ErrorIs(t, err, context.Canceled)

	go func() { _, _ = pw.Write([]byte("late\n")) }()
	got, err := r.ReadLine(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "late", got)
}
