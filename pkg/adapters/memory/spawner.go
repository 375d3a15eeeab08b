package memory

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/aretw0/promptgraph/pkg/ports"
	"github.com/aretw0/promptgraph/pkg/transport"
)

// Spawner opens in-process consoles. It implements ports.Spawner.
type Spawner struct {
	name    string
	connect func() io.ReadWriteCloser
	opts    []transport.Option
	spawns  atomic.Int32
	fail    atomic.Pointer[error]
}

// NewSpawner creates a Spawner calling connect for each new line.
func NewSpawner(name string, connect func() io.ReadWriteCloser, opts ...transport.Option) *Spawner {
	return &Spawner{name: name, connect: connect, opts: opts}
}

// RouterSpawner opens consoles on r.
func RouterSpawner(r *Router, opts ...transport.Option) *Spawner {
	return NewSpawner("memory://"+r.Hostname(), func() io.ReadWriteCloser { return r.Connect() }, opts...)
}

var _ ports.Spawner = (*Spawner)(nil)

// Spawn opens a new console line.
func (s *Spawner) Spawn(ctx context.Context) (ports.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errp := s.fail.Load(); errp != nil {
		return nil, *errp
	}
	s.spawns.Add(1)
	opts := append([]transport.Option{transport.WithName(s.name)}, s.opts...)
	return transport.New(s.connect(), opts...), nil
}

// FailWith makes subsequent spawns return err. A nil err restores normal behaviour.
func (s *Spawner) FailWith(err error) {
	if err == nil {
		s.fail.Store(nil)
		return
	}
	s.fail.Store(&err)
}

// Spawns returns how many transports were opened.
func (s *Spawner) Spawns() int {
	return int(s.spawns.Load())
}

func (s *Spawner) String() string {
	return s.name
}
