// Package natstransport moves encoded documents between services over NATS.
// Payloads are streamed in chunks so documents of any size can be sent
// without holding them in memory twice.
package natstransport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/RobertWHurst/objenc"
)

// SendTimeout is the maximum time to wait for a send acknowledgment.
const SendTimeout = 5 * time.Second

// ChunkTimeout is the maximum time a receiver waits for the next chunk.
const ChunkTimeout = 5 * time.Minute

// ChunkSize is the size of each chunk when streaming a payload.
const ChunkSize = 1024 * 16

// Send opens a stream. It is published on the service subject; the
// receiver answers with a SendAck naming the subject chunks go to.
type Send struct {
	SourceServiceName string `msgpack:"sourceServiceName"`
	ReplySubject      string `msgpack:"replySubject"`
	Subject           string `msgpack:"subject"`
}

// SendAck is the receiver's answer to a Send.
type SendAck struct {
	DataSubject string `msgpack:"dataSubject"`
}

// Chunk is one piece of a streamed payload.
type Chunk struct {
	Index int    `msgpack:"index"`
	Data  []byte `msgpack:"data,omitempty"`
	Error string `msgpack:"error,omitempty"`
	IsEOF bool   `msgpack:"isEof,omitempty"`
}

// Option configures a NatsTransport.
type Option func(*NatsTransport)

// WithLogger sets the logger used for stream diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *NatsTransport) {
		t.logger = logger
	}
}

// NatsTransport implements objenc.Transport on a NATS connection.
type NatsTransport struct {
	conn   *nats.Conn
	logger zerolog.Logger

	mu            sync.Mutex
	subscriptions []*nats.Subscription
	subscribeErr  error
}

var _ objenc.Transport = &NatsTransport{}

// New creates a transport using conn. The connection stays owned by the
// caller.
func New(conn *nats.Conn, opts ...Option) *NatsTransport {
	t := &NatsTransport{
		conn:   conn,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send streams the payload in reader to the subject of serviceName.
func (t *NatsTransport) Send(serviceName, subject, sourceServiceName, replySubject string, reader io.Reader) error {
	if err := t.err(); err != nil {
		return err
	}

	sendBuf, err := msgpack.Marshal(&Send{
		SourceServiceName: sourceServiceName,
		ReplySubject:      replySubject,
		Subject:           subject,
	})
	if err != nil {
		return err
	}

	sendAckMsg, err := t.conn.Request(namespace(serviceName), sendBuf, SendTimeout)
	if err != nil {
		return err
	}

	var sendAck SendAck
	if err := msgpack.Unmarshal(sendAckMsg.Data, &sendAck); err != nil {
		return err
	}

	buf := make([]byte, ChunkSize)
	for index := 0; ; index++ {
		n, readErr := reader.Read(buf)
		isEOF := errors.Is(readErr, io.EOF)
		chunk := &Chunk{Index: index, Data: buf[:n], IsEOF: isEOF}
		if readErr != nil && !isEOF {
			// Tell the receiver the stream is broken before giving up.
			chunk = &Chunk{Index: index, Error: readErr.Error()}
		}

		chunkBuf, err := msgpack.Marshal(chunk)
		if err != nil {
			return err
		}
		if err := t.conn.Publish(sendAck.DataSubject, chunkBuf); err != nil {
			return err
		}

		if chunk.Error != "" {
			return readErr
		}
		if isEOF {
			return nil
		}
	}
}

// Handle subscribes handler to every document sent to serviceName.
func (t *NatsTransport) Handle(serviceName string, handler objenc.Handler) {
	natsSubject := namespace(serviceName)
	t.track(t.conn.Subscribe(natsSubject, func(natsMsg *nats.Msg) {
		t.receive(natsMsg, handler)
	}))
}

// HandleQueue subscribes handler to a share of the documents sent to
// serviceName, balanced across every instance using the same service name.
func (t *NatsTransport) HandleQueue(serviceName string, handler objenc.Handler) {
	natsSubject := namespace(serviceName)
	t.track(t.conn.QueueSubscribe(natsSubject, natsSubject, func(natsMsg *nats.Msg) {
		t.receive(natsMsg, handler)
	}))
}

// Close unsubscribes every subscription made by the transport.
func (t *NatsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	for _, sub := range t.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	t.subscriptions = nil
	return errors.Join(errs...)
}

func (t *NatsTransport) track(sub *nats.Subscription, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.logger.Error().Err(err).Msg("subscribing")
		t.subscribeErr = err
		return
	}
	t.subscriptions = append(t.subscriptions, sub)
}

func (t *NatsTransport) err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subscribeErr
}

// receive acknowledges a Send and hands the handler a reader fed by the
// chunks that follow.
func (t *NatsTransport) receive(natsMsg *nats.Msg, handler objenc.Handler) {
	var send Send
	if err := msgpack.Unmarshal(natsMsg.Data, &send); err != nil {
		handler(send.Subject, send.SourceServiceName, send.ReplySubject, &ErrReader{err: err})
		return
	}

	dataSubject := nats.NewInbox()
	ackBuf, err := msgpack.Marshal(&SendAck{DataSubject: dataSubject})
	if err != nil {
		handler(send.Subject, send.SourceServiceName, send.ReplySubject, &ErrReader{err: err})
		return
	}

	dataSubscription, err := t.conn.SubscribeSync(dataSubject)
	if err != nil {
		handler(send.Subject, send.SourceServiceName, send.ReplySubject, &ErrReader{err: err})
		return
	}

	if err := natsMsg.Respond(ackBuf); err != nil {
		_ = dataSubscription.Unsubscribe()
		handler(send.Subject, send.SourceServiceName, send.ReplySubject, &ErrReader{err: err})
		return
	}

	pr, pw := io.Pipe()
	go t.pump(dataSubscription, pw, send.Subject)

	handler(send.Subject, send.SourceServiceName, send.ReplySubject, pr)
}

// pump copies chunks into pw in index order until the stream ends.
func (t *NatsTransport) pump(dataSubscription *nats.Subscription, pw *io.PipeWriter, subject string) {
	defer dataSubscription.Unsubscribe()

	for expected := 0; ; expected++ {
		dataMsg, err := dataSubscription.NextMsg(ChunkTimeout)
		if err != nil {
			t.logger.Warn().Err(err).Str("subject", subject).Msg("waiting for chunk")
			pw.CloseWithError(err)
			return
		}

		var chunk Chunk
		if err := msgpack.Unmarshal(dataMsg.Data, &chunk); err != nil {
			pw.CloseWithError(err)
			return
		}
		if chunk.Index != expected {
			pw.CloseWithError(&ChunkOrderError{Expected: expected, Got: chunk.Index})
			return
		}
		if chunk.Error != "" {
			pw.CloseWithError(errors.New(chunk.Error))
			return
		}

		if _, err := pw.Write(chunk.Data); err != nil {
			pw.CloseWithError(err)
			return
		}

		if chunk.IsEOF {
			pw.Close()
			return
		}
	}
}

// ErrReader is handed to handlers in place of a payload that could not be
// received.
type ErrReader struct {
	err error
}

func (r *ErrReader) Read(p []byte) (n int, err error) {
	return 0, r.err
}

// ChunkOrderError reports a chunk arriving out of sequence.
type ChunkOrderError struct {
	Expected int
	Got      int
}

func (e *ChunkOrderError) Error() string {
	return fmt.Sprintf("natstransport: chunk %d arrived, expected %d", e.Got, e.Expected)
}
