package lua

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/bined/internal/engine/document"
	"github.com/dshills/bined/internal/engine/segment"
)

// Document is the document surface exposed to scripts.
type Document interface {
	Size() int64
	ByteAt(pos int64) (byte, error)
	Bytes(pos, length int64) ([]byte, error)
	SetByte(pos int64, v byte) error
	Insert(pos int64, data []byte) error
	InsertZeros(pos, length int64) error
	Remove(pos, length int64) error
	Replace(pos int64, data []byte) error
	Splice(pos, length int64, data []byte) error
	Fill(pos, length int64, value byte) error
	SetSize(size int64) error
	Clear() error
	Segments() []document.SegmentInfo
}

// findChunk is how many bytes doc.find reads per step.
const findChunk = 64 * 1024

// DocModule binds a document to the global doc table. Offsets are zero
// based; byte strings are Lua strings.
type DocModule struct {
	doc     Document
	sandbox *Sandbox
	bridge  *Bridge

	// lastErr is the most recent document error raised into Lua.
	lastErr error
}

// NewDocModule creates the bindings for doc.
func NewDocModule(doc Document) *DocModule {
	return &DocModule{doc: doc}
}

// Install registers the doc table and the bined helper module in state.
func (m *DocModule) Install(state *State) {
	m.sandbox = state.Sandbox()
	m.bridge = NewBridge(state.L)

	state.RegisterModule("doc", map[string]lua.LGFunction{
		"size":         m.size,
		"get":          m.get,
		"read":         m.read,
		"set":          m.set,
		"insert":       m.insert,
		"insert_zeros": m.insertZeros,
		"remove":       m.remove,
		"replace":      m.replace,
		"splice":       m.splice,
		"fill":         m.fill,
		"resize":       m.resize,
		"clear":        m.clear,
		"find":         m.find,
		"segments":     m.segments,
	})
	state.PreloadModule("bined", m.loadHelpers)
}

// LastError returns the most recent document error raised into Lua.
func (m *DocModule) LastError() error {
	return m.lastErr
}

// count charges one operation and raises when the limit is exceeded.
func (m *DocModule) count(L *lua.LState) {
	if m.sandbox != nil && m.sandbox.IncrementOperations(1) {
		m.lastErr = ErrOperationLimit
		L.RaiseError("%s", ErrOperationLimit.Error())
	}
}

// check raises err into Lua when it is not nil.
func (m *DocModule) check(L *lua.LState, err error) {
	if err != nil {
		m.lastErr = err
		L.RaiseError("%s", err.Error())
	}
}

func checkByte(L *lua.LState, n int) byte {
	v := L.CheckInt64(n)
	if v < 0 || v > 0xFF {
		L.ArgError(n, "byte value out of range")
	}
	return byte(v)
}

func (m *DocModule) size(L *lua.LState) int {
	L.Push(lua.LNumber(m.doc.Size()))
	return 1
}

func (m *DocModule) get(L *lua.LState) int {
	m.count(L)
	b, err := m.doc.ByteAt(L.CheckInt64(1))
	m.check(L, err)
	L.Push(lua.LNumber(b))
	return 1
}

func (m *DocModule) read(L *lua.LState) int {
	m.count(L)
	data, err := m.doc.Bytes(L.CheckInt64(1), L.CheckInt64(2))
	m.check(L, err)
	L.Push(lua.LString(data))
	return 1
}

func (m *DocModule) set(L *lua.LState) int {
	m.count(L)
	m.check(L, m.doc.SetByte(L.CheckInt64(1), checkByte(L, 2)))
	return 0
}

func (m *DocModule) insert(L *lua.LState) int {
	m.count(L)
	m.check(L, m.doc.Insert(L.CheckInt64(1), []byte(L.CheckString(2))))
	return 0
}

func (m *DocModule) insertZeros(L *lua.LState) int {
	m.count(L)
	m.check(L, m.doc.InsertZeros(L.CheckInt64(1), L.CheckInt64(2)))
	return 0
}

func (m *DocModule) remove(L *lua.LState) int {
	m.count(L)
	m.check(L, m.doc.Remove(L.CheckInt64(1), L.CheckInt64(2)))
	return 0
}

func (m *DocModule) replace(L *lua.LState) int {
	m.count(L)
	m.check(L, m.doc.Replace(L.CheckInt64(1), []byte(L.CheckString(2))))
	return 0
}

func (m *DocModule) splice(L *lua.LState) int {
	m.count(L)
	m.check(L, m.doc.Splice(L.CheckInt64(1), L.CheckInt64(2), []byte(L.OptString(3, ""))))
	return 0
}

func (m *DocModule) fill(L *lua.LState) int {
	m.count(L)
	m.check(L, m.doc.Fill(L.CheckInt64(1), L.CheckInt64(2), checkByte(L, 3)))
	return 0
}

func (m *DocModule) resize(L *lua.LState) int {
	m.count(L)
	m.check(L, m.doc.SetSize(L.CheckInt64(1)))
	return 0
}

func (m *DocModule) clear(L *lua.LState) int {
	m.count(L)
	m.check(L, m.doc.Clear())
	return 0
}

// find returns the offset of the first occurrence of pattern at or after
// start, or nil.
func (m *DocModule) find(L *lua.LState) int {
	m.count(L)
	pattern := []byte(L.CheckString(1))
	start := L.OptInt64(2, 0)
	size := m.doc.Size()
	if start < 0 || start > size {
		L.ArgError(2, "start out of range")
	}
	if len(pattern) == 0 {
		L.Push(lua.LNumber(start))
		return 1
	}

	overlap := int64(len(pattern) - 1)
	for pos := start; pos < size; pos += findChunk {
		n := min(findChunk+overlap, size-pos)
		data, err := m.doc.Bytes(pos, n)
		m.check(L, err)
		if i := bytes.Index(data, pattern); i >= 0 {
			L.Push(lua.LNumber(pos + int64(i)))
			return 1
		}
	}
	L.Push(lua.LNil)
	return 1
}

func (m *DocModule) segments(L *lua.LState) int {
	m.count(L)
	infos := m.doc.Segments()
	list := make([]any, len(infos))
	for i, info := range infos {
		seg := map[string]any{
			"kind":   info.Kind.String(),
			"start":  info.Start,
			"length": info.Length,
		}
		switch info.Kind {
		case segment.KindSource:
			seg["source"] = info.SourceID.String()
			seg["source_offset"] = info.SourceOffset
		case segment.KindFill:
			seg["value"] = int64(info.Value)
		}
		list[i] = seg
	}
	L.Push(m.bridge.ToLuaValue(list))
	return 1
}

// loadHelpers builds the table returned by require("bined").
func (m *DocModule) loadHelpers(L *lua.LState) int {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"hex": func(L *lua.LState) int {
			digits := strings.Join(strings.Fields(L.CheckString(1)), "")
			b, err := hex.DecodeString(digits)
			if err != nil {
				L.ArgError(1, err.Error())
			}
			L.Push(lua.LString(b))
			return 1
		},
		"tohex": func(L *lua.LState) int {
			L.Push(lua.LString(hex.EncodeToString([]byte(L.CheckString(1)))))
			return 1
		},
	})
	L.Push(mod)
	return 1
}

// RunOptions configures Run.
type RunOptions struct {
	// Name identifies the script in errors.
	Name string
	// Args is exposed to the script as the global args table.
	Args map[string]string
	// State options for the script's Lua state.
	State []StateOption
}

// Run executes code against doc in a fresh state. It returns the value the
// script stored in the global result, converted to Go.
func Run(ctx context.Context, doc Document, code string, opts RunOptions) (any, error) {
	return run(ctx, doc, opts, func(s *State) error {
		return s.DoString(ctx, code)
	})
}

// RunFile executes the script at path against doc in a fresh state.
func RunFile(ctx context.Context, doc Document, path string, opts RunOptions) (any, error) {
	if opts.Name == "" {
		opts.Name = path
	}
	return run(ctx, doc, opts, func(s *State) error {
		return s.DoFile(ctx, path)
	})
}

func run(ctx context.Context, doc Document, opts RunOptions, exec func(*State) error) (any, error) {
	state := NewState(opts.State...)
	defer state.Close()

	mod := NewDocModule(doc)
	mod.Install(state)

	bridge := NewBridge(state.L)
	args := opts.Args
	if args == nil {
		args = map[string]string{}
	}
	state.SetGlobal("args", bridge.ToLuaValue(args))

	if err := exec(state); err != nil {
		return nil, scriptError(opts.Name, err, mod.LastError())
	}
	return bridge.ToGoValue(state.GetGlobal("result")), nil
}

// scriptError wraps a failed run, keeping the document error that raised it
// when the Lua error carries its message.
func scriptError(name string, err, docErr error) error {
	if errors.Is(err, ErrExecutionTimeout) || errors.Is(err, ErrStateClosed) ||
		errors.Is(err, context.Canceled) {
		return &ScriptError{Name: name, Message: err.Error(), Err: err}
	}
	se := &ScriptError{Name: name, Message: err.Error()}
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		se.Message = apiErr.Object.String()
	}
	if docErr != nil && strings.Contains(se.Message, docErr.Error()) {
		se.Err = docErr
	}
	return se
}
