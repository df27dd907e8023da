// Package json decodes JSON record files into positional rows.
package json

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode"

	"sparkify/internal/config"
	"sparkify/internal/transformer"
)

// StreamJSONRows decodes JSON records from r and sends them as pooled
// *transformer.Row values aligned to columns.
//
// Accepted layouts:
//   - newline-delimited objects (one record per object, blank lines ignored)
//   - a root array of objects, optionally followed by more objects
//   - an envelope object whose parser option "envelope_field" names an array
//     of record objects
//
// Numbers are decoded as json.Number. null elements are skipped. onParseErr,
// when non-nil, is called with the 1-based record number that failed.
//
// parserOpts:
//   - header_map: map original key -> column name
//   - envelope_field: name of the records array inside a root object
func StreamJSONRows(
	ctx context.Context,
	r io.Reader,
	columns []string,
	parserOpts config.Options,
	out chan<- *transformer.Row,
	onParseErr func(line int, err error),
) error {
	return decodeRecords(ctx, r, columns, parserOpts, onParseErr, func(row *transformer.Row) error {
		select {
		case out <- row:
			return nil
		case <-ctx.Done():
			row.Drop()
			return ctx.Err()
		}
	})
}

// DecodeAll decodes every record in r and returns the rows in input order.
// Any malformed record fails the whole input and no rows are returned.
// Callers own the returned rows and should Free them when done.
func DecodeAll(ctx context.Context, r io.Reader, columns []string, parserOpts config.Options) ([]*transformer.Row, error) {
	var rows []*transformer.Row
	err := decodeRecords(ctx, r, columns, parserOpts, nil, func(row *transformer.Row) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		for _, row := range rows {
			row.Drop()
		}
		return nil, err
	}
	return rows, nil
}

type recordStream struct {
	ctx        context.Context
	columns    []string
	rev        map[string]string
	envelope   string
	onParseErr func(line int, err error)
	emit       func(*transformer.Row) error
	line       int
}

func decodeRecords(
	ctx context.Context,
	r io.Reader,
	columns []string,
	parserOpts config.Options,
	onParseErr func(line int, err error),
	emit func(*transformer.Row) error,
) error {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("json: read input: %w", err)
	}

	s := &recordStream{
		ctx:        ctx,
		columns:    columns,
		rev:        reverseHeaderMap(parserOpts.StringMap("header_map")),
		envelope:   parserOpts.String("envelope_field", ""),
		onParseErr: onParseErr,
		emit:       emit,
	}

	dec := json.NewDecoder(br)
	dec.UseNumber()

	if first == '[' {
		if _, err := dec.Token(); err != nil {
			return s.fail(fmt.Errorf("json: read array start: %w", err))
		}
		if err := s.streamArray(dec); err != nil {
			return err
		}
		if end, err := dec.Token(); err != nil {
			return s.fail(fmt.Errorf("json: read array end: %w", err))
		} else if end != json.Delim(']') {
			return s.fail(fmt.Errorf("json: expected array end ']', got %v", end))
		}
	} else if first != '{' {
		return s.fail(fmt.Errorf("json: unsupported root %q (want object or array)", first))
	}

	for {
		var raw any
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return s.fail(fmt.Errorf("json: decode record: %w", err))
		}
		if err := s.handleValue(raw); err != nil {
			return err
		}
	}
}

// streamArray decodes the elements of an array whose '[' was already consumed.
func (s *recordStream) streamArray(dec *json.Decoder) error {
	for dec.More() {
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return s.fail(fmt.Errorf("json: decode array element: %w", err))
		}
		if raw == nil {
			continue
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			return s.fail(fmt.Errorf("json: array element not an object (got %T)", raw))
		}
		if err := s.emitObject(obj); err != nil {
			return err
		}
	}
	return nil
}

func (s *recordStream) handleValue(raw any) error {
	switch v := raw.(type) {
	case nil:
		return nil
	case map[string]any:
		if s.envelope == "" {
			return s.emitObject(v)
		}
		items, ok := v[s.envelope].([]any)
		if !ok {
			return s.fail(fmt.Errorf("json: envelope field %q missing or not an array", s.envelope))
		}
		for _, it := range items {
			if it == nil {
				continue
			}
			obj, ok := it.(map[string]any)
			if !ok {
				return s.fail(fmt.Errorf("json: envelope element not an object (got %T)", it))
			}
			if err := s.emitObject(obj); err != nil {
				return err
			}
		}
		return nil
	default:
		return s.fail(fmt.Errorf("json: record not an object (got %T)", raw))
	}
}

func (s *recordStream) emitObject(obj map[string]any) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	s.line++
	row := transformer.GetRow(len(s.columns))
	row.Line = s.line
	for i, col := range s.columns {
		v, ok := obj[col]
		if !ok {
			if orig, ok := s.rev[col]; ok {
				v = obj[orig]
			}
		}
		row.V[i] = v
	}
	return s.emit(row)
}

// fail reports err against the record being decoded and returns it wrapped
// with that record number.
func (s *recordStream) fail(err error) error {
	line := s.line + 1
	if s.onParseErr != nil {
		s.onParseErr(line, err)
	}
	return fmt.Errorf("record %d: %w", line, err)
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if !unicode.IsSpace(rune(b)) && b != 0xEF && b != 0xBB && b != 0xBF {
			return b, br.UnreadByte()
		}
	}
}

// reverseHeaderMap builds column->original for lookup without per-record map copies.
func reverseHeaderMap(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for orig, norm := range h {
		if orig == "" || norm == "" {
			continue
		}
		out[norm] = orig
	}
	return out
}
