package execution

import (
	"fmt"

	"github.com/arloliu/millipede/endian"
	"github.com/arloliu/millipede/errs"
	"github.com/arloliu/millipede/feature"
	"github.com/arloliu/millipede/shmem"
)

// Blob tags of the execution protocol.
//
// The inputs segment holds one TagInput blob per input. For each input the
// target writes TagInputBegin, TagFeatures, an optional TagCmpArgs and
// finally TagInputEnd to the outputs segment. An input counts as read only
// once its TagInputEnd is seen.
const (
	TagInput      uint64 = 1
	TagInputBegin uint64 = 2
	TagFeatures   uint64 = 3
	TagCmpArgs    uint64 = 4
	TagInputEnd   uint64 = 5
)

// Environment variables naming the segments for a target process.
const (
	EnvShmemIn  = "MILLIPEDE_SHMEM_IN"
	EnvShmemOut = "MILLIPEDE_SHMEM_OUT"
)

// WriteInputs resets seq and writes as many inputs as fit, in order.
// It returns the number of inputs written.
func WriteInputs(seq *shmem.Sequence, inputs [][]byte) int {
	seq.Reset()
	for i, in := range inputs {
		if !seq.Write(shmem.Blob{Tag: TagInput, Data: in}) {
			return i
		}
	}

	return len(inputs)
}

// ReadInputs reads every input blob from seq. The returned slices alias the
// shared arena.
func ReadInputs(seq *shmem.Sequence) [][]byte {
	var inputs [][]byte
	for b := seq.Read(); b.IsValid(); b = seq.Read() {
		if b.Tag == TagInput {
			inputs = append(inputs, b.Data)
		}
	}

	return inputs
}

// PackFeatures encodes features as little-endian uint64 values.
func PackFeatures(dst []byte, fv feature.Vec) []byte {
	le := endian.GetLittleEndianEngine()
	for _, f := range fv {
		dst = le.AppendUint64(dst, f)
	}

	return dst
}

// UnpackFeatures decodes the output of PackFeatures.
func UnpackFeatures(data []byte) (feature.Vec, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("%w: features payload of %d bytes", errs.ErrInvalidExecutionOutput, len(data))
	}

	le := endian.GetLittleEndianEngine()
	fv := make(feature.Vec, len(data)/8)
	for i := range fv {
		fv[i] = le.Uint64(data[i*8:])
	}

	return fv, nil
}

// WriteOutput writes the result of one input. It returns false when the
// segment filled up; the input then does not count as read.
func WriteOutput(seq *shmem.Sequence, res Result, scratch []byte) bool {
	if !seq.Write(shmem.Blob{Tag: TagInputBegin}) {
		return false
	}
	if !seq.Write(shmem.Blob{Tag: TagFeatures, Data: PackFeatures(scratch[:0], res.Features)}) {
		return false
	}
	if len(res.CmpArgs) > 0 && !seq.Write(shmem.Blob{Tag: TagCmpArgs, Data: res.CmpArgs}) {
		return false
	}

	return seq.Write(shmem.Blob{Tag: TagInputEnd})
}

// ReadOutputs reads results from seq into result.Results starting at
// result.NumOutputsRead, advancing NumOutputsRead for every completed input.
//
// Payloads are copied out of the shared arena. An output sequence that does
// not follow the protocol yields errs.ErrInvalidExecutionOutput.
func ReadOutputs(seq *shmem.Sequence, result *BatchResult) error {
	inInput := false
	for b := seq.Read(); b.IsValid(); b = seq.Read() {
		idx := result.NumOutputsRead
		switch b.Tag {
		case TagInputBegin:
			if idx >= len(result.Results) {
				return fmt.Errorf("%w: more outputs than the %d inputs", errs.ErrInvalidExecutionOutput, len(result.Results))
			}
			result.Results[idx] = Result{}
			inInput = true
		case TagFeatures:
			if !inInput {
				return fmt.Errorf("%w: features outside an input", errs.ErrInvalidExecutionOutput)
			}
			fv, err := UnpackFeatures(b.Data)
			if err != nil {
				return err
			}
			result.Results[idx].Features = fv
		case TagCmpArgs:
			if !inInput {
				return fmt.Errorf("%w: cmp args outside an input", errs.ErrInvalidExecutionOutput)
			}
			result.Results[idx].CmpArgs = append([]byte(nil), b.Data...)
		case TagInputEnd:
			if !inInput {
				return fmt.Errorf("%w: unmatched input end", errs.ErrInvalidExecutionOutput)
			}
			inInput = false
			result.NumOutputsRead++
		default:
			return fmt.Errorf("%w: unknown tag %d", errs.ErrInvalidExecutionOutput, b.Tag)
		}
	}
	if inInput {
		// The target died in the middle of this input.
		result.Results[result.NumOutputsRead] = Result{}
	}

	return nil
}
