package ports

// Publisher sends a named measurement to a metrics backend.
// Publishing is fire-and-forget for device modules: they decide whether to ignore the error.
type Publisher interface {
	Publish(name string, value float64) error
}
