package objenc

import (
	"context"
	"time"

	"github.com/nats-io/nuid"
)

// DefaultRequestTimeout is how long Request waits for a reply.
const DefaultRequestTimeout = 30 * time.Second

// ServiceClient sends documents to one remote service. It is created by
// Client.Service.
type ServiceClient struct {
	client            *Client
	remoteServiceName string
}

// Send sends v without waiting for a reply. v is encoded unless it is an
// io.Reader or a RawDocument.
func (s *ServiceClient) Send(subject string, v any) error {
	data, err := intoDataReader(s.client.encoder, v)
	if err != nil {
		return err
	}
	return s.client.transport.Send(s.remoteServiceName, subject, s.client.serviceName, "", data)
}

// Request sends v and waits up to DefaultRequestTimeout for the reply.
func (s *ServiceClient) Request(subject string, v any) *Message {
	return s.RequestWithTimeout(subject, v, DefaultRequestTimeout)
}

// RequestWithTimeout sends v and waits up to timeout for the reply. On
// timeout the returned message carries context.DeadlineExceeded.
func (s *ServiceClient) RequestWithTimeout(subject string, v any, timeout time.Duration) *Message {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.RequestWithCtx(ctx, subject, v)
}

// RequestWithCtx sends v and waits for the reply until ctx is done.
func (s *ServiceClient) RequestWithCtx(ctx context.Context, subject string, v any) *Message {
	replySubject := generateReplySubject()

	data, err := intoDataReader(s.client.encoder, v)
	if err != nil {
		return &Message{err: err}
	}

	// Bound before sending so a fast reply is not dropped.
	binding := s.client.Bind(replySubject)
	defer binding.Unbind()

	err = s.client.transport.Send(s.remoteServiceName, subject, s.client.serviceName, replySubject, data)
	if err != nil {
		return &Message{err: err}
	}

	select {
	case <-ctx.Done():
		return &Message{err: ctx.Err()}
	case msg := <-binding.handlerChan:
		return msg
	}
}

func generateReplySubject() string {
	return "_reply." + nuid.Next()
}
