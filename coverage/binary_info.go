// Package coverage describes the instrumented target (PC table, symbols,
// call graph) and derives coverage structures from the corpus: the
// coverage frontier and the function filter.
//
// Producing BinaryInfo (reading PC tables, symbolizing) is done outside the
// engine; a zero BinaryInfo is valid and disables everything that needs it.
package coverage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PCFlags describe one entry of the PC table.
type PCFlags uint8

const (
	// PCFlagFuncEntry marks the first PC of a function.
	PCFlagFuncEntry PCFlags = 1 << iota
)

// PCInfo is one instrumented program counter.
type PCInfo struct {
	PC    uint64  `yaml:"pc"`
	Flags PCFlags `yaml:"flags"`
}

// IsFunctionEntry reports whether the PC starts a function.
func (p PCInfo) IsFunctionEntry() bool {
	return p.Flags&PCFlagFuncEntry != 0
}

// PCTable lists instrumented PCs in instrumentation order. PC features carry
// indices into this table.
type PCTable []PCInfo

// Symbol is the symbolized location of one PC-table entry.
type Symbol struct {
	Func string `yaml:"func"`
	File string `yaml:"file"`
}

// SymbolTable is parallel to PCTable.
type SymbolTable []Symbol

// CallGraph maps the PC index of a call site to the PC indices of the function
// entries it may call.
type CallGraph map[uint64][]uint64

// BinaryInfo bundles everything the engine knows about the target binary.
type BinaryInfo struct {
	PCTable   PCTable     `yaml:"pc_table"`
	Symbols   SymbolTable `yaml:"symbols"`
	CallGraph CallGraph   `yaml:"call_graph"`
}

// Function is the half-open PC-index range [Entry, End) of one function.
type Function struct {
	Entry uint64
	End   uint64
}

// Size returns the number of PCs in the function.
func (f Function) Size() uint64 {
	return f.End - f.Entry
}

// Functions splits the PC table into functions at every function entry.
// PCs preceding the first entry belong to no function.
func (bi *BinaryInfo) Functions() []Function {
	if bi == nil {
		return nil
	}

	var funcs []Function
	for i, info := range bi.PCTable {
		if !info.IsFunctionEntry() {
			continue
		}
		if n := len(funcs); n > 0 {
			funcs[n-1].End = uint64(i)
		}
		funcs = append(funcs, Function{Entry: uint64(i), End: uint64(len(bi.PCTable))})
	}

	return funcs
}

// NumPCs returns the size of the PC table.
func (bi *BinaryInfo) NumPCs() int {
	if bi == nil {
		return 0
	}

	return len(bi.PCTable)
}

// LoadBinaryInfo reads a BinaryInfo from a YAML file produced by an external
// PC-table and symbolization tool.
func LoadBinaryInfo(path string) (*BinaryInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read binary info: %w", err)
	}

	var bi BinaryInfo
	if err := yaml.Unmarshal(data, &bi); err != nil {
		return nil, fmt.Errorf("failed to parse binary info %s: %w", path, err)
	}
	if len(bi.Symbols) != 0 && len(bi.Symbols) != len(bi.PCTable) {
		return nil, fmt.Errorf("binary info %s: %d symbols for %d PCs", path, len(bi.Symbols), len(bi.PCTable))
	}

	return &bi, nil
}
