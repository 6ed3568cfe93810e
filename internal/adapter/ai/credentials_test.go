package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadCredentials(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "whitespace and empty segment", raw: " keyA ,keyB,, keyC ", want: []string{"keyA", "keyB", "keyC"}},
		{name: "single", raw: "only", want: []string{"only"}},
		{name: "empty", raw: "", want: []string{}},
		{name: "blanks only", raw: " , ,\t,", want: []string{}},
		{name: "order preserved", raw: "z,a,m", want: []string{"z", "a", "m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := LoadCredentials(tt.raw)
			assert.Equal(t, tt.want, c.Keys())
			assert.Equal(t, len(tt.want), c.Len())
			assert.Equal(t, len(tt.want) == 0, c.Empty())
		})
	}
}

func TestCredentials_KeysIsCopy(t *testing.T) {
	c := NewCredentials("a", "b")
	keys := c.Keys()
	keys[0] = "mutated"
	assert.Equal(t, "a", c.At(0))
}
