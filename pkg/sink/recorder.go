package sink

import (
	"context"
	"os"
	"sync"

	"firestige.xyz/pktcraft/pkg/core"
)

const TypeMemory = "memory"

func init() {
	Register(TypeMemory, func(Config) (Sink, error) { return NewRecorder(), nil })
}

// Recorder keeps every frame in memory. It backs dry runs and tests.
type Recorder struct {
	mu     sync.Mutex
	frames [][]byte
	fail   error
	closed bool
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) WriteFrame(ctx context.Context, frame []byte) (int, error) {
	if err := checkContext(ctx, "record"); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, core.NewSinkError("record", os.ErrClosed)
	}
	if r.fail != nil {
		return 0, core.NewSinkError("record", r.fail)
	}
	r.frames = append(r.frames, append([]byte(nil), frame...))
	return len(frame), nil
}

// FailWith makes subsequent writes fail with err; nil restores normal
// operation.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.fail = err
	r.mu.Unlock()
}

// Frames returns a copy of the recorded frames in write order.
func (r *Recorder) Frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.frames))
	for i, f := range r.frames {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}
