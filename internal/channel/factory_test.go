//go:build !debug

package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_UsesRequestedSize(t *testing.T) {
	o := New[[]byte](3)
	for range 3 {
		o.Push([]byte("frame"))
	}
	assert.Equal(t, 3, o.Len())
	assert.Zero(t, o.Evicted())
}
