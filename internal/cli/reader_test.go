package cli

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonBlockingReader_ReadLine(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantEOF bool
	}{
		{name: "answers in order", input: "y\nn\n", want: []string{"y", "n"}},
		{name: "surrounding spaces trimmed", input: "  yes \r\n", want: []string{"yes"}},
		{name: "blank answer", input: "\n", want: []string{""}},
		{name: "piped answer without newline", input: "yes", want: []string{"yes"}, wantEOF: true},
		{name: "no input", input: "", wantEOF: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nbr := NewNonBlockingReader(strings.NewReader(tt.input))
			ctx := context.Background()

			for _, want := range tt.want {
				line, err := nbr.ReadLine(ctx)
				require.NoError(t, err)
				assert.Equal(t, want, line)
			}
			if tt.wantEOF {
				_, err := nbr.ReadLine(ctx)
				assert.ErrorIs(t, err, io.EOF)
			}
		})
	}
}

func TestNonBlockingReader_ReadString(t *testing.T) {
	nbr := NewNonBlockingReader(strings.NewReader("M1,M2,"))

	first, err := nbr.ReadString(context.Background(), ',')
	require.NoError(t, err)
	assert.Equal(t, "M1,", first)

	second, err := nbr.ReadString(context.Background(), ',')
	require.NoError(t, err)
	assert.Equal(t, "M2,", second)
}

func TestNonBlockingReader_Canceled(t *testing.T) {
	t.Run("before reading", func(t *testing.T) {
		nbr := NewNonBlockingReader(strings.NewReader("yes\n"))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := nbr.ReadLine(ctx)
		assert.ErrorIs(t, err, ErrInputCancelled)
	})

	t.Run("while waiting for an answer", func(t *testing.T) {
		pr, pw := io.Pipe()
		defer func() { _ = pr.Close() }()
		defer func() { _ = pw.Close() }()

		nbr := NewNonBlockingReader(pr)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := nbr.ReadLine(ctx)
		assert.ErrorIs(t, err, ErrInputCancelled)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestNewNonBlockingReader_NilPanics(t *testing.T) {
	assert.Panics(t, func() { NewNonBlockingReader(nil) })
}
