package ports

import (
	"context"
	"io"

	"go.trai.ch/keel/internal/core/domain"
)

// CompileRequest describes one invocation of the compiler.
type CompileRequest struct {
	Unit *domain.CompilationUnit
	// Command is the compiler executable followed by its fixed arguments.
	Command []string
	// OutDir is where the compiler must write the unit's artifacts.
	OutDir string
	// DependencyDirs maps each dependency package name to its lib output directory.
	DependencyDirs map[domain.PackageName]string
}

// Compiler compiles a single unit. The compiler itself lives outside this program.
//
//go:generate go run go.uber.org/mock/mockgen -source=compiler.go -destination=mocks/mock_compiler.go -package=mocks
type Compiler interface {
	// Compile builds req.Unit. Output streams receive the compiler's diagnostics.
	Compile(ctx context.Context, req CompileRequest, stdout, stderr io.Writer) error
}
