package pkg

import (
	"io"

	"go.uber.org/multierr"
)

// CombinedWriter fans every write out to all of its writers. A failing writer
// does not stop the others; all errors are combined into the returned one.
type CombinedWriter struct {
	Writers []io.Writer
}

func NewCombinedWriter(writers ...io.Writer) *CombinedWriter {
	return &CombinedWriter{
		Writers: append([]io.Writer(nil), writers...),
	}
}

// Write reports len(p) if at least one writer took the full payload, so the
// logger does not treat a broken file sink as a short write to stdout.
func (cw *CombinedWriter) Write(p []byte) (int, error) {
	var err error
	written := 0
	for _, w := range cw.Writers {
		n, werr := w.Write(p)
		if werr != nil {
			err = multierr.Append(err, werr)
			continue
		}
		if n > written {
			written = n
		}
	}
	return written, err
}
