// Package transformer holds the positional row type shared by the decoder and
// the loaders, plus the per-record cleaning applied before rows reach the
// warehouse.
package transformer

import "sync"

// Row is a pooled positional record aligned to a fixed column list.
//
// Ownership contract:
//   - Exactly one goroutine owns a Row at a time. Sending it on a channel
//     transfers ownership.
//   - The final consumer calls Free once nothing references r or r.V.
//   - On cancellation paths use Drop instead, so a row still visible to an
//     unwinding stage is never handed out again by the pool.
type Row struct {
	V    []any
	Line int // 1-based record number within its file
}

var rowPool sync.Pool

// GetRow returns a Row with len(V) == colCount and every element nil.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, colCount)
		}
		r.V = r.V[:colCount]
		clear(r.V)
		r.Line = 0
		return r
	}
	return &Row{V: make([]any, colCount)}
}

// Free returns the Row to the pool.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop releases the Row without pooling it.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
}
