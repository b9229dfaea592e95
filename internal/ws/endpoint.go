package ws

// Endpoint is one connected client as the engine sees it. The concrete
// implementation is the gorilla-backed Connection; tests substitute
// in-memory fakes.
type Endpoint interface {
	ID() string
	Send(event string, data any) error
	Close() error
}
