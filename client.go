package objenc

import (
	"bytes"
	"cmp"
	"io"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// MaxDecodeSize bounds how many bytes of a payload are read before decoding.
var MaxDecodeSize = int64(1024 * 1024 * 5) // 5 MB

// Client sends and receives documents for one named service over a
// Transport, encoding them with an Encoder.
type Client struct {
	serviceName string
	transport   Transport
	encoder     Encoder
	logger      zerolog.Logger

	handlerChansMu sync.RWMutex
	handlerChans   map[string]map[*Binding]chan *Message

	queueOnce           sync.Once
	queueHandlerChansMu sync.RWMutex
	queueHandlerChans   map[string]map[*Binding]chan *Message
	queueNext           map[string]int

	bindingSeq atomic.Uint64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger used for delivery diagnostics.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for serviceName and registers it with the
// transport for broadcast delivery. Queue delivery is registered the first
// time a queue binding is created.
func NewClient(serviceName string, transport Transport, encoder Encoder, opts ...ClientOption) *Client {
	c := &Client{
		serviceName:       serviceName,
		transport:         transport,
		encoder:           encoder,
		logger:            zerolog.Nop(),
		handlerChans:      make(map[string]map[*Binding]chan *Message),
		queueHandlerChans: make(map[string]map[*Binding]chan *Message),
		queueNext:         make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("service", serviceName).Logger()
	transport.Handle(c.serviceName, c.handleMessage)
	return c
}

// Service returns a client for sending to another service.
func (c *Client) Service(remoteServiceName string) *ServiceClient {
	return &ServiceClient{
		client:            c,
		remoteServiceName: remoteServiceName,
	}
}

// Bind subscribes to every document sent to subject.
func (c *Client) Bind(subject string) *Binding {
	return newBinding(c, BindTypeNormal, subject)
}

// BindOnce subscribes to the next document sent to subject only.
func (c *Client) BindOnce(subject string) *Binding {
	return newBinding(c, BindTypeOnce, subject)
}

// BindQueue subscribes to a share of the documents sent to subject across
// all instances of the service.
func (c *Client) BindQueue(subject string) *Binding {
	c.queueOnce.Do(func() {
		c.transport.HandleQueue(c.serviceName, c.handleQueueMessage)
	})
	return newBinding(c, BindTypeQueue, subject)
}

// Close closes the underlying transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) newMessage(subject, sourceServiceName, replySubject string, reader io.Reader) *Message {
	return &Message{
		subject:           subject,
		sourceServiceName: sourceServiceName,
		replySubject:      replySubject,
		data:              reader,
		client:            c,
	}
}

// handleMessage hands the document to every local binding on subject. With
// more than one binding the payload is read once and each message gets its
// own copy.
func (c *Client) handleMessage(subject, sourceServiceName, replySubject string, reader io.Reader) {
	c.handlerChansMu.RLock()
	handlerChans := c.handlerChans[subject]
	if len(handlerChans) == 0 {
		c.handlerChansMu.RUnlock()
		c.drop(subject, sourceServiceName, reader)
		return
	}

	if len(handlerChans) == 1 {
		for _, ch := range handlerChans {
			ch <- c.newMessage(subject, sourceServiceName, replySubject, reader)
		}
		c.handlerChansMu.RUnlock()
		return
	}

	var data []byte
	var readErr error
	if reader != nil {
		data, readErr = io.ReadAll(io.LimitReader(reader, MaxDecodeSize))
	}
	for _, ch := range handlerChans {
		msg := c.newMessage(subject, sourceServiceName, replySubject, bytes.NewReader(data))
		msg.err = readErr
		ch <- msg
	}
	c.handlerChansMu.RUnlock()
}

// handleQueueMessage hands the document to one of the local queue bindings,
// rotating between them in the order they were bound.
func (c *Client) handleQueueMessage(subject, sourceServiceName, replySubject string, reader io.Reader) {
	msg := c.newMessage(subject, sourceServiceName, replySubject, reader)

	c.queueHandlerChansMu.Lock()
	handlerChans := c.queueHandlerChans[subject]
	var target chan *Message
	if len(handlerChans) > 0 {
		bindings := make([]*Binding, 0, len(handlerChans))
		for b := range handlerChans {
			bindings = append(bindings, b)
		}
		slices.SortFunc(bindings, func(a, b *Binding) int {
			return cmp.Compare(a.seq, b.seq)
		})
		n := c.queueNext[subject] % len(bindings)
		c.queueNext[subject]++
		target = handlerChans[bindings[n]]
	}
	if target != nil {
		target <- msg
	}
	c.queueHandlerChansMu.Unlock()

	if target == nil {
		c.drop(subject, sourceServiceName, reader)
	}
}

// drop drains a payload nobody is bound to so the transport can finish the
// stream.
func (c *Client) drop(subject, sourceServiceName string, reader io.Reader) {
	c.logger.Debug().Str("subject", subject).Str("source", sourceServiceName).Msg("no binding for document, dropping")
	if reader == nil {
		return
	}
	if _, err := io.Copy(io.Discard, reader); err != nil {
		c.logger.Warn().Err(err).Str("subject", subject).Msg("draining dropped document")
	}
}
