// Package config parses the sandboxed Lua file that declares the host
// application, its preference store and the extensions whose runtimes are
// managed.
//
// # Schema
//
//	rtm = {
//	  app = {
//	    version = "4.9",            -- compared with manifest minAppVersion
//	    product = "RTM",            -- directory under the data root
//	    data_dir = "/srv/rtm",      -- optional; RTM_DATA_DIR wins
//	  },
//	  store = { backend = "file" }, -- "file" or "sqlite"
//	  bridge = {
//	    rpc_arg = "--rpc",
//	    timeout_seconds = 120,
//	  },
//	  extensions = {
//	    {
//	      id = "imagegen",
//	      manifest_url = "https://downloads.example.com/imagegen/manifest.json",
//	      protocol_version = 2,
//	      signature = "codesign",   -- or "openpgp" with keyring = "<path>"
//	    },
//	    platform.when(platform.is_linux, {
//	      id = "speech",
//	      manifest_url = "https://downloads.example.com/speech/manifest.json",
//	      protocol_version = 1,
//	      signature = "openpgp",
//	      keyring = "speech-release.asc",
//	    }),
//	  },
//	}
//
// # Sandbox
//
// Configs run in gopher-lua with os, io, debug, module loading and raw
// metatable access removed. A read-only platform table describing the
// host is injected before the file runs. Parsing honors the caller's
// context and applies a 5 second timeout when it has no deadline.
//
// # Errors
//
// Syntax and runtime errors are returned as *ParseError. Schema violations
// are *ParseError wrapping a *ValidationError that names the offending
// field. FormatError renders either for display.
package config
