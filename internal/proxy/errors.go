package proxy

import "fmt"

// BindError reports that the proxy listener could not be created.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind proxy listener on %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }
