// Hook x86 and x86-64 functions at runtime
//
// A hook overwrites the start of a function with a jump to a replacement.
// The instructions the jump replaces are first copied to a trampoline, with
// every instruction that depends on its address rewritten, followed by a
// jump back into the rest of the function. Calling the trampoline runs the
// original function.
//
// Functions can be found by address, by Go function value (HookFunc), or by
// searching the memory of a loaded module for a byte signature (see the
// modmap and signature packages).
//
// Limitations:
//   - Only supports amd64 and 386
//   - Patching is not atomic. Don't hook a function another thread may be
//     running.
//   - Hooks can't be removed individually. Rewind releases the most recent
//     trampolines without restoring their targets.
//   - Prologues with loop instructions, or with jumps forward into the
//     patched bytes, can't be relocated.
//   - Silently fails to redirect callers of inlined Go functions.
//   - A Go function called through its trampoline restarts at the hooked
//     entry, and so runs the replacement, if it has to grow its stack or is
//     preempted in the prologue.
//   - HookFunc relies on internal Go APIs that can break at any time.
package detour
