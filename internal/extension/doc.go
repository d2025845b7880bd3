// Package extension installs, updates, and removes externally-hosted native
// runtimes and tracks their install state.
//
// # Install protocol
//
// An install fetches the extension's manifest, selects the artifact for the
// host architecture, downloads and checksums it, extracts it into a private
// temporary directory, locates the executable, verifies its publisher
// signature, and finally publishes the runtime with a single directory
// rename:
//
//	<data-root>/<product>/Extensions/<id>/runtime/<version>/...
//
// Nothing is written under the install root until every verification step
// has passed, so a failed install never leaves a partial version directory.
//
// # State
//
// A Manager owns one extension. It loads the persisted install record
// synchronously on construction (no network), and Refresh reconciles it with
// the remote manifest afterwards. Every transition is delivered to
// subscribers registered with Subscribe.
//
// # Errors
//
// Failures are reported as *Error values whose Kind is one of the package
// sentinels (ErrNetwork, ErrManifestInvalid, ErrChecksumMismatch, ...), so
// callers match them with errors.Is.
package extension
