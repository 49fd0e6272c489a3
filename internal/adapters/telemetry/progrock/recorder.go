// Package progrock records per-unit build progress on a progrock tape.
package progrock

import (
	"context"
	"io"
	"sync"

	"github.com/opencontainers/go-digest"
	"github.com/vito/progrock"
	"go.trai.ch/keel/internal/core/ports"
)

// Recorder implements ports.Telemetry on top of a progrock recorder.
type Recorder struct {
	w   progrock.Writer
	rec *progrock.Recorder

	mu     sync.Mutex
	closed bool
}

// New creates a Recorder writing to an in-memory tape.
func New() *Recorder {
	return NewRecorder(progrock.NewTape())
}

// NewRecorder creates a Recorder with the given writer.
func NewRecorder(w progrock.Writer) *Recorder {
	return &Recorder{
		w:   w,
		rec: progrock.NewRecorder(w),
	}
}

// VertexDigest returns the digest identifying the vertex named name.
// Unit ids are unique within a plan, so the name alone keys the vertex.
func VertexDigest(name string) digest.Digest {
	return digest.FromString(name)
}

// Record starts a vertex. Inputs name the vertices this one waits on.
func (r *Recorder) Record(ctx context.Context, name string, opts ...ports.VertexOption) (context.Context, ports.Vertex) {
	cfg := &ports.VertexConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	var vopts []progrock.VertexOpt
	if len(cfg.Inputs) > 0 {
		inputs := make([]digest.Digest, len(cfg.Inputs))
		for i, in := range cfg.Inputs {
			inputs[i] = VertexDigest(in)
		}
		vopts = append(vopts, progrock.WithInputs(inputs...))
	}

	v := &Vertex{vertex: r.rec.Vertex(VertexDigest(name), name, vopts...)}
	return ports.ContextWithVertex(ctx, v), v
}

// Close flushes the recording. Calling it more than once is a no-op.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	if c, ok := r.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
