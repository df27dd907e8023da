package transformer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetRow_ClearsReusedRows(t *testing.T) {
	r := GetRow(3)
	assert.Len(t, r.V, 3)
	r.V[0], r.V[2], r.Line = "x", 1.5, 7
	r.Free()

	for i := 0; i < 4; i++ {
		got := GetRow(2)
		assert.Len(t, got.V, 2)
		assert.Nil(t, got.V[0])
		assert.Nil(t, got.V[1])
		assert.Zero(t, got.Line)
		got.Free()
	}
}

func TestGetRow_GrowsCapacity(t *testing.T) {
	GetRow(1).Free()
	r := GetRow(len(LogColumns))
	assert.Len(t, r.V, len(LogColumns))
}

func TestRow_Drop(t *testing.T) {
	r := GetRow(2)
	r.Line = 3
	r.Drop()
	assert.Nil(t, r.V)
	assert.Zero(t, r.Line)
}
