package platform

import (
	lua "github.com/yuin/gopher-lua"
)

// luaGlobal is the name configs use to read host facts.
const luaGlobal = "platform"

// InjectPlatformTable exposes info to configuration code as the read-only
// global "platform". It must run before the config chunk is loaded.
func InjectPlatformTable(L *lua.LState, info *Info) error {
	fields := L.NewTable()
	for name, value := range map[string]lua.LValue{
		"os":               lua.LString(info.OS),
		"arch":             lua.LString(info.Arch),
		"arch_raw":         lua.LString(info.ArchRaw),
		"is_linux":         lua.LBool(info.IsLinux()),
		"is_macos":         lua.LBool(info.IsMacOS()),
		"is_windows":       lua.LBool(info.IsWindows()),
		"is_apple_silicon": lua.LBool(info.IsAppleSilicon()),
		"when":             L.NewFunction(luaWhen),
	} {
		fields.RawSetString(name, value)
	}

	L.SetGlobal(luaGlobal, readOnlyProxy(L, fields))
	return nil
}

// luaWhen implements platform.when(cond, value): value if cond, else nil.
func luaWhen(L *lua.LState) int {
	if L.CheckBool(1) {
		L.Push(L.Get(2))
	} else {
		L.Push(lua.LNil)
	}
	return 1
}

// readOnlyProxy returns an empty table whose metatable serves reads from
// backing and raises on writes. The metatable itself is locked.
func readOnlyProxy(L *lua.LState, backing *lua.LTable) *lua.LTable {
	meta := L.NewTable()
	meta.RawSetString("__index", backing)
	meta.RawSetString("__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("%s is read-only", luaGlobal)
		return 0
	}))
	meta.RawSetString("__metatable", lua.LString("locked"))

	proxy := L.NewTable()
	L.SetMetatable(proxy, meta)
	return proxy
}
