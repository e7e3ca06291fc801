package domain

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZero(t *testing.T) {
	tests := []struct {
		name string
		bufs [][]byte
	}{
		{name: "single key", bufs: [][]byte{bytes.Repeat([]byte{0xaa}, KeySize)}},
		{name: "key and kek", bufs: [][]byte{{1, 2, 3}, bytes.Repeat([]byte{7}, 1024)}},
		{name: "empty and nil", bufs: [][]byte{{}, nil, {9}}},
		{name: "no buffers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() { Zero(tt.bufs...) })
			for _, b := range tt.bufs {
				assert.Equal(t, make([]byte, len(b)), append([]byte{}, b...))
			}
		})
	}
}
