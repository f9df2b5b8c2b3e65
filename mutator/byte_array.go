// Package mutator provides the default byte-array mutator used when the
// target does not bring its own.
package mutator

import (
	"bytes"
	"encoding/binary"
	"math/rand/v2"

	"github.com/arloliu/millipede/internal/options"
)

// DefaultMaxLen bounds the length of produced mutants.
const DefaultMaxLen = 4000

// maxDelta is the largest value added to or subtracted from an integer.
const maxDelta = 35

// dictEntry replaces occurrences of from with to.
type dictEntry struct {
	from []byte
	to   []byte
}

// ByteArray mutates inputs as plain byte slices: bit flips, byte insertion
// and removal, integer arithmetic, crossover, and replacements taken from the
// target's comparison operands. It is owned by one engine.
type ByteArray struct {
	rng    *rand.Rand
	maxLen int
	dict   []dictEntry
}

// Option configures a ByteArray.
type Option = options.Option[*ByteArray]

// WithMaxLen bounds the length of mutants. Non-positive values are ignored.
func WithMaxLen(n int) Option {
	return options.NoError(func(m *ByteArray) {
		if n > 0 {
			m.maxLen = n
		}
	})
}

// NewByteArray creates a mutator with a deterministic random stream.
func NewByteArray(seed uint64, opts ...Option) *ByteArray {
	m := &ByteArray{
		rng:    rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d)),
		maxLen: DefaultMaxLen,
	}
	_ = options.Apply(m, opts...)

	return m
}

// SetCmpDictionary replaces the dictionary with the comparison operands in
// cmpArgs and reports whether any were found.
//
// cmpArgs is a sequence of entries [n: 1 byte][a: n bytes][b: n bytes], one
// per executed comparison a == b. A truncated trailing entry is ignored.
func (m *ByteArray) SetCmpDictionary(cmpArgs []byte) bool {
	m.dict = m.dict[:0]
	for len(cmpArgs) > 0 {
		n := int(cmpArgs[0])
		if n == 0 || len(cmpArgs) < 1+2*n {
			break
		}
		a := cmpArgs[1 : 1+n]
		b := cmpArgs[1+n : 1+2*n]
		cmpArgs = cmpArgs[1+2*n:]
		if bytes.Equal(a, b) {
			continue
		}
		m.dict = append(m.dict, dictEntry{from: a, to: b}, dictEntry{from: b, to: a})
	}

	return len(m.dict) > 0
}

// Mutate returns n mutants of randomly chosen inputs. Inputs are not
// modified; every mutant is non-empty and at most the configured max length.
func (m *ByteArray) Mutate(inputs [][]byte, n int) [][]byte {
	mutants := make([][]byte, 0, n)
	for range n {
		var data []byte
		if len(inputs) > 0 {
			data = bytes.Clone(inputs[m.rng.IntN(len(inputs))])
		}
		if len(inputs) > 1 && m.rng.IntN(8) == 0 {
			data = m.crossOver(data, inputs[m.rng.IntN(len(inputs))])
		}
		data = m.mutateData(data)
		if len(data) > m.maxLen {
			data = data[:m.maxLen]
		}
		if len(data) == 0 {
			data = []byte{byte(m.rng.UintN(256))}
		}
		mutants = append(mutants, data)
	}

	return mutants
}

func (m *ByteArray) mutateData(data []byte) []byte {
	for stop := false; !stop; stop = stop && m.rng.IntN(3) == 0 {
		f := mutateDataFuncs[m.rng.IntN(len(mutateDataFuncs))]
		data, stop = f(m, data)
	}

	return data
}

// crossOver inserts a random piece of other at a random position of data.
func (m *ByteArray) crossOver(data, other []byte) []byte {
	if len(other) == 0 {
		return data
	}
	start := m.rng.IntN(len(other))
	end := start + 1 + m.rng.IntN(len(other)-start)
	pos := m.rng.IntN(len(data) + 1)

	out := make([]byte, 0, len(data)+end-start)
	out = append(out, data[:pos]...)
	out = append(out, other[start:end]...)

	return append(out, data[pos:]...)
}

var mutateDataFuncs = [...]func(m *ByteArray, data []byte) ([]byte, bool){
	// Flip a bit.
	func(m *ByteArray, data []byte) ([]byte, bool) {
		if len(data) == 0 {
			return data, false
		}
		data[m.rng.IntN(len(data))] ^= 1 << m.rng.IntN(8)

		return data, true
	},
	// Overwrite a byte.
	func(m *ByteArray, data []byte) ([]byte, bool) {
		if len(data) == 0 {
			return data, false
		}
		data[m.rng.IntN(len(data))] = byte(m.rng.UintN(256))

		return data, true
	},
	// Insert random bytes.
	func(m *ByteArray, data []byte) ([]byte, bool) {
		if len(data) >= m.maxLen {
			return data, false
		}
		n := min(m.rng.IntN(16)+1, m.maxLen-len(data))
		pos := m.rng.IntN(len(data) + 1)
		data = append(data, make([]byte, n)...)
		copy(data[pos+n:], data[pos:])
		for i := range n {
			data[pos+i] = byte(m.rng.UintN(256))
		}

		return data, true
	},
	// Remove bytes, never all of them.
	func(m *ByteArray, data []byte) ([]byte, bool) {
		if len(data) < 2 {
			return data, false
		}
		n := min(m.rng.IntN(16)+1, len(data)-1)
		pos := m.rng.IntN(len(data) - n + 1)
		copy(data[pos:], data[pos+n:])

		return data[:len(data)-n], true
	},
	// Add to or subtract from an integer of 1, 2, 4 or 8 bytes.
	func(m *ByteArray, data []byte) ([]byte, bool) {
		width := 1 << m.rng.IntN(4)
		if len(data) < width {
			return data, false
		}
		i := m.rng.IntN(len(data) - width + 1)
		delta := uint64(m.rng.IntN(2*maxDelta+1)) - maxDelta
		if delta == 0 {
			delta = 1
		}
		order := binary.ByteOrder(binary.LittleEndian)
		if m.rng.IntN(10) == 0 {
			order = binary.BigEndian
		}
		storeInt(order, data[i:], loadInt(order, data[i:], width)+delta, width)

		return data, true
	},
	// Apply a dictionary entry.
	func(m *ByteArray, data []byte) ([]byte, bool) {
		if len(m.dict) == 0 {
			return data, false
		}
		e := m.dict[m.rng.IntN(len(m.dict))]
		if idx := bytes.Index(data, e.from); idx >= 0 {
			out := make([]byte, 0, len(data)-len(e.from)+len(e.to))
			out = append(out, data[:idx]...)
			out = append(out, e.to...)

			return append(out, data[idx+len(e.from):]...), true
		}
		if len(data)+len(e.to) > m.maxLen {
			return data, false
		}
		pos := m.rng.IntN(len(data) + 1)
		out := make([]byte, 0, len(data)+len(e.to))
		out = append(out, data[:pos]...)
		out = append(out, e.to...)

		return append(out, data[pos:]...), true
	},
}

func loadInt(order binary.ByteOrder, data []byte, width int) uint64 {
	switch width {
	case 1:
		return uint64(data[0])
	case 2:
		return uint64(order.Uint16(data))
	case 4:
		return uint64(order.Uint32(data))
	default:
		return order.Uint64(data)
	}
}

func storeInt(order binary.ByteOrder, data []byte, v uint64, width int) {
	switch width {
	case 1:
		data[0] = byte(v)
	case 2:
		order.PutUint16(data, uint16(v))
	case 4:
		order.PutUint32(data, uint32(v))
	default:
		order.PutUint64(data, v)
	}
}
