package domain

import "path/filepath"

const (
	// ManifestFileName is the name of the package manifest.
	ManifestFileName = "keel.yaml"

	// LockFileName is the name of the lock document written next to the workspace manifest.
	LockFileName = "keel.lock"

	// KeelDirName is the name of the internal workspace directory.
	KeelDirName = ".keel"

	// TargetDirName is the name of the build output directory.
	TargetDirName = "target"

	// StoreDirName is the directory inside KeelDirName holding one build info file per unit.
	StoreDirName = "build-info"

	// AdvisoryLockFileName is the name of the inter-process lock inside KeelDirName.
	AdvisoryLockFileName = "lock"

	// DefaultSourceDirName is the directory holding a package's sources.
	DefaultSourceDirName = "src"

	// DefaultLibEntry is the implied entry point of a lib target.
	DefaultLibEntry = "src/lib.keel"

	// DefaultBinEntry is the implied entry point of a bin target.
	DefaultBinEntry = "src/main.keel"

	// DefaultRegistryURL is the index used when a dependency names no registry.
	DefaultRegistryURL = "https://index.keel.dev"

	// DefaultCompiler is the compiler command invoked for every unit.
	DefaultCompiler = "keelc"

	// DirPerm is the default permission for directories (rwxr-x---).
	DirPerm = 0o750

	// FilePerm is the default permission for files (rw-r--r--).
	FilePerm = 0o644
)

// StorePath returns the directory of the unit fingerprint store for a workspace root.
func StorePath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, KeelDirName, StoreDirName)
}

// AdvisoryLockPath returns the path of the inter-process lock for a workspace root.
func AdvisoryLockPath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, KeelDirName, AdvisoryLockFileName)
}

// LockPath returns the path of the lock document for a workspace root.
func LockPath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, LockFileName)
}

// TargetPath returns the build output directory for a workspace root.
func TargetPath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, TargetDirName)
}

// RegistryCachePath joins the registry cache directory under the given cache root.
func RegistryCachePath(cacheRoot string) string {
	return filepath.Join(cacheRoot, "registry")
}

// GitCachePath joins the git cache directory under the given cache root.
func GitCachePath(cacheRoot string) string {
	return filepath.Join(cacheRoot, "git")
}
