// Package lua runs sandboxed Lua scripts against documents.
//
// This package wraps the gopher-lua library to provide:
//   - Sandboxed Lua state management
//   - Go-Lua type conversion bridge
//   - A doc module bound to a document
//   - Execution timeouts and operation limits
//
// # State
//
// The State type manages a Lua runtime with sandboxing:
//
//	state := lua.NewState(
//	    lua.WithExecutionTimeout(5 * time.Second),
//	    lua.WithOperationLimit(1_000_000),
//	)
//	defer state.Close()
//
//	if err := state.DoFile(ctx, "patch.lua"); err != nil {
//	    log.Fatal(err)
//	}
//
// # Sandbox
//
// The Sandbox restricts Lua code execution by:
//   - Removing dofile, loadfile, load and loadstring
//   - Leaving the io, os and debug libraries closed
//   - Limiting require to string, table, math and preloaded modules
//   - Counting document operations
//
// # Scripts
//
// Run and RunFile execute a script against a document. The script sees a
// global doc table with zero-based offsets:
//
//	doc.size()                  doc.get(pos)           doc.read(pos, n)
//	doc.set(pos, byte)          doc.insert(pos, s)     doc.insert_zeros(pos, n)
//	doc.remove(pos, n)          doc.replace(pos, s)    doc.splice(pos, n, s)
//	doc.fill(pos, n, byte)      doc.resize(n)          doc.clear()
//	doc.find(s [, start])       doc.segments()
//
// require("bined") returns hex and tohex helpers. Values passed through
// RunOptions.Args appear in the global args table, and a value stored in the
// global result is returned to Go.
package lua
