package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBuffer_PushWithinCapacity(t *testing.T) {
	rb := NewRingBuffer[int](3)
	rb.Push(1)
	rb.Push(2)

	assert.Equal(t, []int{1, 2}, rb.GetAll())
	assert.Equal(t, 2, rb.Len())
}

func TestRingBuffer_OverwritesOldest(t *testing.T) {
	rb := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		rb.Push(i)
	}

	assert.Equal(t, []int{3, 4, 5}, rb.GetAll())
	assert.Equal(t, 3, rb.Len())
}

func TestRingBuffer_Last(t *testing.T) {
	rb := NewRingBuffer[string](4)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		rb.Push(s)
	}

	tests := []struct {
		name string
		n    int
		want []string
	}{
		{"negative returns all", -1, []string{"b", "c", "d", "e"}},
		{"zero", 0, []string{}},
		{"two newest", 2, []string{"d", "e"}},
		{"more than stored", 10, []string{"b", "c", "d", "e"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rb.Last(tt.n))
		})
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer[int](2)
	rb.Push(1)
	rb.Clear()

	assert.Empty(t, rb.GetAll())
	rb.Push(7)
	assert.Equal(t, []int{7}, rb.GetAll())
}

func TestRingBuffer_ZeroCapacity(t *testing.T) {
	rb := NewRingBuffer[int](0)
	rb.Push(1)
	rb.Push(2)
	assert.Equal(t, []int{2}, rb.GetAll())
}
