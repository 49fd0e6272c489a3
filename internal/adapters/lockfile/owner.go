package lockfile

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.trai.ch/keel/internal/core/ports"
)

func ownerRecord(ctx context.Context) string {
	id := ports.RunIDFromContext(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	return fmt.Sprintf("run=%s pid=%d\n", id, os.Getpid())
}

func readOwner(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
