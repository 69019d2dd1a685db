package lua

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// Sandbox restricts Lua execution to safe operations.
type Sandbox struct {
	L *lua.LState

	operationLimit int64
	operationCount int64

	output io.Writer

	mu      sync.Mutex
	modules map[string]bool
}

// safeModules are the built-in modules require may always load.
var safeModules = []string{"string", "table", "math"}

// NewSandbox creates a new sandbox for the Lua state.
func NewSandbox(L *lua.LState, operationLimit int64, output io.Writer) *Sandbox {
	s := &Sandbox{
		L:              L,
		operationLimit: operationLimit,
		output:         output,
		modules:        make(map[string]bool),
	}
	for _, name := range safeModules {
		s.modules[name] = true
	}
	return s
}

// Install sets up the sandbox restrictions.
func (s *Sandbox) Install() {
	dangerousFuncs := []string{
		"dofile",
		"loadfile",
		"load",
		"loadstring",
	}
	for _, name := range dangerousFuncs {
		s.L.SetGlobal(name, lua.LNil)
	}

	s.installPrint()
	s.installSafeRequire()
}

// installPrint redirects print to the sandbox output.
func (s *Sandbox) installPrint() {
	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int {
		if s.output == nil {
			return 0
		}
		n := L.GetTop()
		parts := make([]string, n)
		for i := 1; i <= n; i++ {
			parts[i-1] = L.ToStringMeta(L.Get(i)).String()
		}
		fmt.Fprintln(s.output, strings.Join(parts, "\t"))
		return 0
	}))
}

// installSafeRequire clears the module search paths and replaces require
// with a version that only loads allowed modules.
func (s *Sandbox) installSafeRequire() {
	pkg := s.L.GetGlobal("package")
	if pkgTable, ok := pkg.(*lua.LTable); ok {
		s.L.SetField(pkgTable, "path", lua.LString(""))
		s.L.SetField(pkgTable, "cpath", lua.LString(""))
	}

	originalRequire := s.L.GetGlobal("require")
	if originalRequire == lua.LNil {
		return
	}

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)
		if !s.Allowed(modName) {
			L.RaiseError("module %q is not available", modName)
			return 0
		}
		L.Push(originalRequire)
		L.Push(lua.LString(modName))
		L.Call(1, 1)
		return 1
	}))
}

// Allow lets require load the named module.
func (s *Sandbox) Allow(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[name] = true
}

// Allowed reports whether require may load the named module.
func (s *Sandbox) Allowed(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modules[name]
}

// ResetOperationCount resets the operation counter.
func (s *Sandbox) ResetOperationCount() {
	atomic.StoreInt64(&s.operationCount, 0)
}

// OperationCount returns the current operation count.
func (s *Sandbox) OperationCount() int64 {
	return atomic.LoadInt64(&s.operationCount)
}

// IncrementOperations adds to the operation count and returns true if the
// limit is exceeded.
func (s *Sandbox) IncrementOperations(n int64) bool {
	if s.operationLimit <= 0 {
		return false
	}
	count := atomic.AddInt64(&s.operationCount, n)
	return count > s.operationLimit
}
