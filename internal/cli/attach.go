package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/aretw0/promptgraph/pkg/ports"
	"golang.org/x/term"
)

// DefaultEscape ends an attached session (Ctrl+]).
const DefaultEscape = 0x1d

const attachPoll = 20 * time.Millisecond

// Attach connects the user to the raw console: bytes from in are sent as-is
// and everything the device prints is copied to out. It returns when the
// escape byte is read, in is exhausted or ctx is done.
func Attach(ctx context.Context, tr ports.Transport, in io.Reader, out io.Writer, escape byte) error {
	input := make(chan []byte)
	inErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				select {
				case input <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				inErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(attachPoll)
	defer ticker.Stop()
	flush := func() error {
		if text, ok := tr.Read(); ok {
			if _, err := io.WriteString(out, text); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return flush()
		case chunk := <-input:
			for i, b := range chunk {
				if b != escape {
					continue
				}
				if i > 0 {
					if err := tr.Send(string(chunk[:i])); err != nil {
						return err
					}
				}
				return flush()
			}
			if err := tr.Send(string(chunk)); err != nil {
				return err
			}
		case err := <-inErr:
			time.Sleep(attachPoll)
			if ferr := flush(); ferr != nil {
				return ferr
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// AttachTerminal runs Attach on a terminal, switching it to raw mode so
// keystrokes reach the device unbuffered.
func AttachTerminal(ctx context.Context, tr ports.Transport, in *os.File, out io.Writer) error {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		old, err := term.MakeRaw(fd)
		if err != nil {
			return err
		}
		defer func() { _ = term.Restore(fd, old) }()
	}
	return Attach(ctx, tr, in, out, DefaultEscape)
}
