package lua

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	glua "github.com/yuin/gopher-lua"
)

func TestStateDoString(t *testing.T) {
	state := NewState()
	defer state.Close()

	if err := state.DoString(context.Background(), `x = 1 + 1`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}

	num, ok := state.GetGlobal("x").(glua.LNumber)
	if !ok || float64(num) != 2 {
		t.Errorf("x = %v, want 2", state.GetGlobal("x"))
	}
}

func TestStateDoStringSyntaxError(t *testing.T) {
	state := NewState()
	defer state.Close()

	if err := state.DoString(context.Background(), `invalid lua code !!!`); err == nil {
		t.Error("DoString() should fail on a syntax error")
	}
}

func TestStateCall(t *testing.T) {
	state := NewState()
	defer state.Close()

	ctx := context.Background()
	if err := state.DoString(ctx, `function add(a, b) return a + b, a * b end`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}

	results, err := state.Call("add", glua.LNumber(3), glua.LNumber(4))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if len(results) != 2 || results[0] != glua.LNumber(7) || results[1] != glua.LNumber(12) {
		t.Errorf("Call() = %v, want [7 12]", results)
	}

	if _, err := state.Call("missing"); err == nil {
		t.Error("Call() on an undefined function should fail")
	}
	state.SetGlobal("notfn", glua.LNumber(1))
	if _, err := state.Call("notfn"); err == nil {
		t.Error("Call() on a number should fail")
	}
}

func TestStateRegisterModule(t *testing.T) {
	state := NewState()
	defer state.Close()

	state.RegisterModule("util", map[string]glua.LGFunction{
		"double": func(L *glua.LState) int {
			L.Push(glua.LNumber(L.CheckInt(1) * 2))
			return 1
		},
	})

	if err := state.DoString(context.Background(), `r = util.double(21)`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	if state.GetGlobal("r") != glua.LNumber(42) {
		t.Errorf("r = %v, want 42", state.GetGlobal("r"))
	}
}

func TestStateTimeout(t *testing.T) {
	state := NewState(WithExecutionTimeout(50 * time.Millisecond))
	defer state.Close()

	start := time.Now()
	err := state.DoString(context.Background(), `while true do end`)
	if !errors.Is(err, ErrExecutionTimeout) {
		t.Fatalf("DoString() error = %v, want ErrExecutionTimeout", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout took too long")
	}

	// The state stays usable after a timeout.
	if err := state.DoString(context.Background(), `y = 1`); err != nil {
		t.Errorf("DoString() after timeout error = %v", err)
	}
}

func TestStateCanceled(t *testing.T) {
	state := NewState(WithExecutionTimeout(0))
	defer state.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := state.DoString(ctx, `while true do end`)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("DoString() error = %v, want context.Canceled", err)
	}
}

func TestStatePrint(t *testing.T) {
	var out bytes.Buffer
	state := NewState(WithOutput(&out))
	defer state.Close()

	if err := state.DoString(context.Background(), `print("size", 42, nil)`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	if got := out.String(); got != "size\t42\tnil\n" {
		t.Errorf("print wrote %q", got)
	}
}

func TestStateClosedOperations(t *testing.T) {
	state := NewState()
	if err := state.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !state.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
	if err := state.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if err := state.DoString(context.Background(), `x = 1`); !errors.Is(err, ErrStateClosed) {
		t.Errorf("DoString() error = %v, want ErrStateClosed", err)
	}
	if _, err := state.Call("f"); !errors.Is(err, ErrStateClosed) {
		t.Errorf("Call() error = %v, want ErrStateClosed", err)
	}
	if state.GetGlobal("x") != glua.LNil {
		t.Error("GetGlobal() on closed state should return nil")
	}
}

func TestStateDangerousFunctionsRemoved(t *testing.T) {
	state := NewState()
	defer state.Close()

	for _, fn := range []string{"dofile", "loadfile", "load", "loadstring"} {
		if v := state.GetGlobal(fn); v != glua.LNil {
			t.Errorf("%s should be removed by sandbox, got %T", fn, v)
		}
	}
	for _, lib := range []string{"io", "os", "debug"} {
		if v := state.GetGlobal(lib); v != glua.LNil {
			t.Errorf("%s should not be opened, got %T", lib, v)
		}
	}
}

func TestStateRequire(t *testing.T) {
	state := NewState()
	defer state.Close()
	ctx := context.Background()

	if err := state.DoString(ctx, `local s = require("string")`); err != nil {
		t.Errorf("require(string) error = %v", err)
	}
	err := state.DoString(ctx, `require("socket")`)
	if err == nil || !strings.Contains(err.Error(), "not available") {
		t.Errorf("require(socket) error = %v", err)
	}

	state.PreloadModule("greet", func(L *glua.LState) int {
		mod := L.NewTable()
		L.SetField(mod, "hello", glua.LString("hi"))
		L.Push(mod)
		return 1
	})
	if err := state.DoString(ctx, `g = require("greet").hello`); err != nil {
		t.Fatalf("require(greet) error = %v", err)
	}
	if state.GetGlobal("g") != glua.LString("hi") {
		t.Errorf("g = %v", state.GetGlobal("g"))
	}
}
