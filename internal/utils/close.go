package utils

import "io"

// Close closes c and ignores any error.
// Use for best-effort cleanup in defer where error handling is not critical.
func Close(c io.Closer) {
	_ = c.Close()
}

// CancelOnClose couples a stream with the cancellation of the request that
// produced it, so closing the body also releases the upstream connection.
type CancelOnClose struct {
	io.ReadCloser
	Cancel func()
}

func (c *CancelOnClose) Close() error {
	if c.Cancel != nil {
		c.Cancel()
	}
	return c.ReadCloser.Close()
}
