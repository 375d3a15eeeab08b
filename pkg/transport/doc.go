// Package transport implements the expect engine shared by every console adapter.
//
// A Stream wraps an io.ReadWriteCloser, buffers what the device prints and lets
// callers wait for prompt patterns with a timeout. Adapters only have to provide
// the raw byte stream.
package transport
