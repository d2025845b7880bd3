package platform

import (
	"testing"

	lua "github.com/yuin/gopher-lua"
)

type luaCase struct {
	name string
	code string
	want lua.LValue
}

func runLuaCases(t *testing.T, L *lua.LState, tests []luaCase) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := L.DoString(tt.code); err != nil {
				t.Fatalf("failed to execute code: %v", err)
			}
			got := L.Get(-1)
			L.Pop(1)

			if got.Type() != tt.want.Type() {
				t.Errorf("type mismatch: got %v, want %v", got.Type(), tt.want.Type())
				return
			}
			if got.String() != tt.want.String() {
				t.Errorf("value mismatch: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInjectPlatformTable_Linux(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	info := &Info{OS: "linux", Arch: "amd64", ArchRaw: "x86_64"}
	if err := InjectPlatformTable(L, info); err != nil {
		t.Fatalf("InjectPlatformTable() error = %v", err)
	}

	runLuaCases(t, L, []luaCase{
		{"os", `return platform.os`, lua.LString("linux")},
		{"arch", `return platform.arch`, lua.LString("amd64")},
		{"arch_raw", `return platform.arch_raw`, lua.LString("x86_64")},
		{"is_linux", `return platform.is_linux`, lua.LTrue},
		{"is_macos", `return platform.is_macos`, lua.LFalse},
		{"is_windows", `return platform.is_windows`, lua.LFalse},
		{"is_apple_silicon", `return platform.is_apple_silicon`, lua.LFalse},
	})
}

func TestInjectPlatformTable_MacOS(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	info := &Info{OS: "darwin", Arch: "arm64", ArchRaw: "arm64"}
	if err := InjectPlatformTable(L, info); err != nil {
		t.Fatalf("InjectPlatformTable() error = %v", err)
	}

	runLuaCases(t, L, []luaCase{
		{"os", `return platform.os`, lua.LString("darwin")},
		{"is_macos", `return platform.is_macos`, lua.LTrue},
		{"is_apple_silicon", `return platform.is_apple_silicon`, lua.LTrue},
		{"signature choice", `return platform.is_macos and "codesign" or "openpgp"`, lua.LString("codesign")},
	})
}

func TestPlatformTable_ReadOnly(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	if err := InjectPlatformTable(L, &Info{OS: "linux", Arch: "amd64"}); err != nil {
		t.Fatalf("InjectPlatformTable() error = %v", err)
	}

	tests := []struct {
		name string
		code string
	}{
		{"modify os", `platform.os = "windows"`},
		{"add new field", `platform.new_field = "value"`},
		{"modify boolean", `platform.is_linux = false`},
		{"replace metatable", `setmetatable(platform, {})`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := L.DoString(tt.code); err == nil {
				t.Error("expected error when modifying read-only table, got nil")
			}
		})
	}
}

func TestPlatformTable_WhenHelper(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	if err := InjectPlatformTable(L, &Info{OS: "linux", Arch: "amd64"}); err != nil {
		t.Fatalf("InjectPlatformTable() error = %v", err)
	}

	runLuaCases(t, L, []luaCase{
		{"when true returns value", `return platform.when(true, "openpgp")`, lua.LString("openpgp")},
		{"when false returns nil", `return platform.when(false, "openpgp")`, lua.LNil},
		{"when with platform boolean", `return platform.when(platform.is_linux, "linux")`, lua.LString("linux")},
		{"when with false platform boolean", `return platform.when(platform.is_macos, "mac")`, lua.LNil},
	})
}
