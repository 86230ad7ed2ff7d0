// Package script loads an optional Lua hook consulted before every setpoint
// write. The script defines a global on_apply(room, desired, offset, target)
// returning either a number (adjusted target), false (veto the write), or
// nil/true (accept as computed).
package script

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// Hook wraps a Lua VM holding the user's on_apply function. The VM is
// single-threaded; a mutex serializes calls from the per-room goroutines.
type Hook struct {
	mu sync.Mutex
	L  *lua.LState
	fn *lua.LFunction
}

// Load compiles the script at path and resolves its on_apply function.
func Load(path string) (*Hook, error) {
	L := lua.NewState()

	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to load script %s: %w", path, err)
	}

	fn, ok := L.GetGlobal("on_apply").(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("script %s does not define on_apply", path)
	}

	log.Info().Str("script", path).Msg("Apply hook loaded")
	return &Hook{L: L, fn: fn}, nil
}

// OnApply implements compensation.ApplyHook.
func (h *Hook) OnApply(room string, desired, offset, target float64) (float64, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.L.Push(h.fn)
	h.L.Push(lua.LString(room))
	h.L.Push(lua.LNumber(desired))
	h.L.Push(lua.LNumber(offset))
	h.L.Push(lua.LNumber(target))

	if err := h.L.PCall(4, 1, nil); err != nil {
		return target, true, fmt.Errorf("on_apply failed: %w", err)
	}

	ret := h.L.Get(-1)
	h.L.Pop(1)

	switch v := ret.(type) {
	case lua.LNumber:
		return float64(v), true, nil
	case lua.LBool:
		return target, bool(v), nil
	default:
		return target, true, nil
	}
}

// Close releases the Lua VM.
func (h *Hook) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.L.Close()
}
