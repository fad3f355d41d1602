package objenc

import "io"

// Handler receives one inbound document. The reader streams the encoded
// payload and must be consumed or drained by the receiver.
type Handler func(subject, sourceServiceName, replySubject string, reader io.Reader)

// Transport moves encoded documents between services.
type Transport interface {
	// Send delivers a payload to the subject of the named service. The
	// reader is consumed by the transport.
	Send(serviceName, subject, sourceServiceName, replySubject string, reader io.Reader) error

	// Handle registers a handler for broadcast delivery: every instance of
	// the service receives each document.
	Handle(serviceName string, handler Handler)

	// HandleQueue registers a handler for load-balanced delivery: one
	// instance of the service receives each document.
	HandleQueue(serviceName string, handler Handler)

	// Close releases subscriptions and connections.
	Close() error
}
