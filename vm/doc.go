// Package vm implements the moonvm execution engine for Lua 5.2 bytecode.
//
// This package contains:
//   - The value model: nil, booleans, numbers, rope strings, tables,
//     closures and native functions, userdata and coroutine handles
//   - The 32-bit register instruction set, prototypes and ProtoBuilder
//   - Closures with shared open/closed upvalues
//   - The interpreter loop with metatable dispatch
//   - Protected calls, runtime errors and internal faults
//   - Goroutine-backed coroutines with deterministic cancellation
//   - Hooks, a breakpoint debugger, a call profiler and a disassembler
package vm
