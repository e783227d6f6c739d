package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "yes", input: "y\n", want: true},
		{name: "full yes", input: "YES\n", want: true},
		{name: "no", input: "n\n", want: false},
		{name: "empty answer", input: "\n", want: false},
		{name: "end of input", input: "", want: false},
		{name: "anything else", input: "maybe\n", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			in := NewNonBlockingReader(strings.NewReader(tt.input))

			got, err := Confirm(context.Background(), in, &out, "Commit session?")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Commit session? [y/N]")
		})
	}
}

func TestConfirm_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	_, err := Confirm(ctx, NewNonBlockingReader(strings.NewReader("")), &out, "Delete?")
	assert.ErrorIs(t, err, ErrInputCancelled)
}
