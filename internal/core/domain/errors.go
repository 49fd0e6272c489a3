package domain

import "go.trai.ch/zerr"

var (
	// ErrInvalidPackageName is returned when a package name contains invalid characters.
	ErrInvalidPackageName = zerr.New("invalid package name, expected lowercase letters, digits, '-' or '_'")

	// ErrInvalidVersion is returned when a version string is not a valid semantic version.
	ErrInvalidVersion = zerr.New("invalid version")

	// ErrInvalidVersionReq is returned when a version constraint cannot be parsed.
	ErrInvalidVersionReq = zerr.New("invalid version requirement")

	// ErrInvalidSourceID is returned when a source locator cannot be parsed.
	ErrInvalidSourceID = zerr.New("invalid source locator")

	// ErrManifestNotFound is returned when no manifest can be found from the working directory.
	ErrManifestNotFound = zerr.New("could not find " + ManifestFileName)

	// ErrManifestReadFailed is returned when the manifest file cannot be read.
	ErrManifestReadFailed = zerr.New("failed to read manifest")

	// ErrManifestParseFailed is returned when the manifest is syntactically or structurally invalid.
	ErrManifestParseFailed = zerr.New("failed to parse manifest")

	// ErrDuplicateDependency is returned when a manifest declares the same dependency twice.
	ErrDuplicateDependency = zerr.New("duplicate dependency")

	// ErrDuplicateTarget is returned when a manifest declares two targets with the same kind and name.
	ErrDuplicateTarget = zerr.New("duplicate target")

	// ErrDuplicateMember is returned when two workspace members share a package name.
	ErrDuplicateMember = zerr.New("duplicate workspace member")

	// ErrWorkspaceDependencyConflict is returned when members declare one dependency with different sources.
	ErrWorkspaceDependencyConflict = zerr.New("workspace members disagree on dependency source")

	// ErrEmptyWorkspace is returned when a workspace has no members.
	ErrEmptyWorkspace = zerr.New("workspace has no members")

	// ErrPackageNotFound is returned when a source does not know the requested package.
	ErrPackageNotFound = zerr.New("package not found")

	// ErrFetchFailed is returned when a source cannot obtain package data.
	ErrFetchFailed = zerr.New("failed to fetch package")

	// ErrChecksumMismatch is returned when downloaded content does not match the recorded checksum.
	ErrChecksumMismatch = zerr.New("checksum mismatch")

	// ErrUnsupportedSource is returned when no provider can serve a source kind.
	ErrUnsupportedSource = zerr.New("unsupported source")

	// ErrResolutionConflict is returned when no assignment satisfies every requirement.
	ErrResolutionConflict = zerr.New("failed to resolve dependencies")

	// ErrDependencyCycle is returned when the resolved package graph contains a cycle.
	ErrDependencyCycle = zerr.New("dependency cycle detected")

	// ErrInvalidGraph is returned when a resolved graph violates its structural invariants.
	ErrInvalidGraph = zerr.New("invalid resolved graph")

	// ErrLockOutdated is returned in locked mode when resolution would change the lock.
	ErrLockOutdated = zerr.New("lock file needs to be updated but locked mode is enabled")

	// ErrLockParseFailed is returned when the lock document cannot be decoded.
	ErrLockParseFailed = zerr.New("failed to parse lock file")

	// ErrLockWriteFailed is returned when the lock document cannot be written.
	ErrLockWriteFailed = zerr.New("failed to write lock file")

	// ErrLockVersionUnsupported is returned when the lock document has an unknown format version.
	ErrLockVersionUnsupported = zerr.New("unsupported lock file version")

	// ErrLockBusy is returned when the advisory lock could not be acquired.
	ErrLockBusy = zerr.New("another keel process holds the workspace lock")

	// ErrMissingTarget is returned when a dependency package has no lib target.
	ErrMissingTarget = zerr.New("dependency has no lib target")

	// ErrUnknownPackage is returned when a selection names a package outside the workspace.
	ErrUnknownPackage = zerr.New("package is not a workspace member")

	// ErrNoUnitsSelected is returned when the target selection yields no compilation units.
	ErrNoUnitsSelected = zerr.New("no compilation units selected")

	// ErrCycleDetected is returned when the compilation unit graph contains a cycle.
	ErrCycleDetected = zerr.New("cycle detected")

	// ErrMissingUnit is returned when a unit depends on a unit absent from the plan.
	ErrMissingUnit = zerr.New("missing compilation unit")

	// ErrDuplicateUnit is returned when two units share an identifier.
	ErrDuplicateUnit = zerr.New("compilation unit already exists")

	// ErrUnitFailed is returned when a compilation unit fails to build.
	ErrUnitFailed = zerr.New("compilation unit failed")

	// ErrBuildFailed is returned when at least one compilation unit did not build.
	ErrBuildFailed = zerr.New("build failed")

	// ErrFingerprintFailed is returned when a unit fingerprint cannot be computed.
	ErrFingerprintFailed = zerr.New("failed to compute unit fingerprint")

	// ErrStoreReadFailed is returned when the build info cannot be read.
	ErrStoreReadFailed = zerr.New("failed to read build info")

	// ErrStoreWriteFailed is returned when the build info cannot be written.
	ErrStoreWriteFailed = zerr.New("failed to write build info")

	// ErrCompilerFailed is returned when the compiler exits unsuccessfully.
	ErrCompilerFailed = zerr.New("compiler failed")
)
