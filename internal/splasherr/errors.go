// Package splasherr defines the controller's error taxonomy (spec.md §7):
// transport, schema, resolution, build, and cache-integrity failures. Session
// and graph code wraps these sentinels with fmt.Errorf("...: %w", ...) so
// callers can branch with errors.Is instead of string matching.
package splasherr

import "errors"

var (
	// ErrTransport covers short reads, bad magic/version, and malformed
	// message discriminants. The session that returns it is always dropped.
	ErrTransport = errors.New("splash: transport error")

	// ErrSchema covers malformed YAML, an unknown flag group, a missing
	// "toolchain" key, a duplicate target name, or a bad board pin
	// reference. Only the offending target is rejected; sibling targets in
	// the same script still load.
	ErrSchema = errors.New("splash: build script schema error")

	// ErrResolution covers a board file, named by a target, that cannot be
	// loaded from the working copy. Only that target is rejected; other
	// targets proceed. A target arch with no matching toolchain is skipped
	// without this error, and no library lookup returns it.
	ErrResolution = errors.New("splash: resolution error")

	// ErrBuild marks a worker-reported build failure. The failing node's
	// oid gets a FAILED cache entry; downstream nodes see FAILED and record
	// their own "unable to build due to failed input" entries.
	ErrBuild = errors.New("splash: build failed")

	// ErrCacheIntegrity is returned by Cache.Add and Cache.AddFailed for an
	// empty oid. A hash mismatch found by Cache.Validate evicts the entry
	// (the oid reverts to MISSING) and is reported as a false result, not as
	// this error.
	ErrCacheIntegrity = errors.New("splash: cache integrity error")
)
