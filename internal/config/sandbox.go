package config

import (
	lua "github.com/yuin/gopher-lua"
)

// sandboxLuaVM configures a Lua VM to run in a restricted sandbox.
// This disables functions that could:
// - Execute system commands (os.execute, os.exit)
// - Access the filesystem (io.open, io.popen)
// - Load external code (require, dofile, loadfile)
// - Bypass the read-only platform table (rawset, setmetatable)
//
// string, table and math are preserved so configs can compute values.
func sandboxLuaVM(L *lua.LState) {
	for _, name := range []string{
		"os", "io", "debug", "package",
		"require", "dofile", "loadfile", "load", "loadstring",
		"rawset", "rawget", "rawequal", "setmetatable", "getmetatable",
		"setfenv", "getfenv", "collectgarbage", "module", "newproxy",
	} {
		L.SetGlobal(name, lua.LNil)
	}
}

// newSandboxedVM creates a new Lua VM with sandboxing applied.
// The call stack and registry are kept small; configs are declarative.
func newSandboxedVM() *lua.LState {
	L := lua.NewState(lua.Options{
		CallStackSize: 256,
		RegistrySize:  1024 * 8,
	})
	sandboxLuaVM(L)
	return L
}
