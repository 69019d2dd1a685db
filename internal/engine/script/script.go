// Package script applies declarative edit scripts to documents.
//
// A script is a YAML file listing edits in order:
//
//	name: patch header
//	ops:
//	  - op: set
//	    at: 0x10
//	    value: 0xff
//	  - op: insert
//	    at: 32
//	    data: "text:hello"
//	  - op: remove
//	    at: 0x100
//	    length: 16
//	  - op: resize
//	    size: 4096
//
// Offsets, lengths and byte values accept decimal or 0x-prefixed numbers.
// Data is written as "hex:deadbeef" or "text:plain bytes"; a value without
// a prefix is taken as text.
package script

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Errors returned by script parsing and execution.
var (
	// ErrInvalidScript indicates the script is malformed.
	ErrInvalidScript = errors.New("invalid script")

	// ErrUnknownOp indicates an operation name that is not recognized.
	ErrUnknownOp = errors.New("unknown operation")
)

// Operation names.
const (
	OpSet         = "set"
	OpInsert      = "insert"
	OpInsertZeros = "insert_zeros"
	OpRemove      = "remove"
	OpReplace     = "replace"
	OpSplice      = "splice"
	OpFill        = "fill"
	OpResize      = "resize"
	OpClear       = "clear"
)

// Editor is the set of document edits a script can perform.
type Editor interface {
	Size() int64
	SetByte(pos int64, v byte) error
	Insert(pos int64, data []byte) error
	InsertZeros(pos, length int64) error
	Remove(pos, length int64) error
	Replace(pos int64, data []byte) error
	Splice(pos, length int64, data []byte) error
	Fill(pos, length int64, value byte) error
	SetSize(size int64) error
	Clear() error
}

// Script is a named list of edits.
type Script struct {
	Name string `yaml:"name"`
	Ops  []Op   `yaml:"ops"`
}

// Op is a single edit. Which fields are used depends on Op.
type Op struct {
	Op     string `yaml:"op"`
	At     Number `yaml:"at"`
	Length Number `yaml:"length"`
	Size   Number `yaml:"size"`
	Value  Number `yaml:"value"`
	Data   Data   `yaml:"data"`
}

// Number is an integer written in decimal or with a 0x, 0o or 0b prefix.
type Number int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (n *Number) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number", node.Line)
	}
	v, err := strconv.ParseInt(strings.ReplaceAll(node.Value, "_", ""), 0, 64)
	if err != nil {
		return fmt.Errorf("line %d: invalid number %q", node.Line, node.Value)
	}
	*n = Number(v)
	return nil
}

// Data is a byte string written as "hex:..." or "text:...".
type Data []byte

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Data) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a string", node.Line)
	}
	b, err := ParseData(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = b
	return nil
}

// ParseData decodes a "hex:" or "text:" prefixed value. Whitespace inside
// hex data is ignored.
func ParseData(s string) ([]byte, error) {
	switch {
	case strings.HasPrefix(s, "hex:"):
		digits := strings.Join(strings.Fields(s[len("hex:"):]), "")
		b, err := hex.DecodeString(digits)
		if err != nil {
			return nil, fmt.Errorf("invalid hex data: %w", err)
		}
		return b, nil
	case strings.HasPrefix(s, "text:"):
		return []byte(s[len("text:"):]), nil
	default:
		return []byte(s), nil
	}
}

// OpError reports the edit that failed.
type OpError struct {
	Index int
	Op    string
	Err   error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	return fmt.Sprintf("op %d (%s): %v", e.Index, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *OpError) Unwrap() error {
	return e.Err
}

// Parse decodes a script from YAML and validates it.
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ParseReader decodes a script read from r.
func ParseReader(r io.Reader) (*Script, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Load reads and decodes the script at path.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Validate checks operation names and field ranges without touching a
// document.
func (s *Script) Validate() error {
	for i, op := range s.Ops {
		if err := op.validate(); err != nil {
			return &OpError{Index: i, Op: op.Op, Err: err}
		}
	}
	return nil
}

func (op Op) validate() error {
	switch op.Op {
	case OpSet, OpFill:
		if op.Value < 0 || op.Value > 0xFF {
			return fmt.Errorf("%w: value %d is not a byte", ErrInvalidScript, op.Value)
		}
	case OpInsert, OpReplace, OpSplice, OpInsertZeros, OpRemove, OpResize, OpClear:
	case "":
		return fmt.Errorf("%w: missing op", ErrInvalidScript)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, op.Op)
	}
	if op.At < 0 || op.Length < 0 || op.Size < 0 {
		return fmt.Errorf("%w: negative offset or length", ErrInvalidScript)
	}
	return nil
}

// Apply runs the edits against ed in order and returns the number applied.
// Edits before a failing one stay applied.
func (s *Script) Apply(ed Editor) (int, error) {
	for i, op := range s.Ops {
		if err := op.apply(ed); err != nil {
			return i, &OpError{Index: i, Op: op.Op, Err: err}
		}
	}
	return len(s.Ops), nil
}

func (op Op) apply(ed Editor) error {
	at, length := int64(op.At), int64(op.Length)
	switch op.Op {
	case OpSet:
		return ed.SetByte(at, byte(op.Value))
	case OpInsert:
		return ed.Insert(at, op.Data)
	case OpInsertZeros:
		return ed.InsertZeros(at, length)
	case OpRemove:
		return ed.Remove(at, length)
	case OpReplace:
		return ed.Replace(at, op.Data)
	case OpSplice:
		return ed.Splice(at, length, op.Data)
	case OpFill:
		return ed.Fill(at, length, byte(op.Value))
	case OpResize:
		return ed.SetSize(int64(op.Size))
	case OpClear:
		return ed.Clear()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, op.Op)
	}
}
