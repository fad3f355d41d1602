package objenc

import (
	"bytes"
	"io"
)

// RawDocument is an already encoded payload. It is sent as is.
type RawDocument []byte

// Message is one inbound document, or the failure to obtain one.
type Message struct {
	subject           string
	sourceServiceName string
	replySubject      string
	data              io.Reader
	client            *Client
	err               error
}

// Subject returns the subject the document was sent to.
func (m *Message) Subject() string {
	return m.subject
}

// Source returns the name of the sending service.
func (m *Message) Source() string {
	return m.sourceServiceName
}

// ReplySubject returns the subject a reply is expected on, or "" when the
// sender did not ask for one.
func (m *Message) ReplySubject() string {
	return m.replySubject
}

// Err returns the error the message carries, if any.
func (m *Message) Err() error {
	return m.err
}

// Into decodes the payload into v.
func (m *Message) Into(v any) error {
	if m.err != nil {
		return m.err
	}
	data, err := io.ReadAll(io.LimitReader(m.data, MaxDecodeSize))
	if err != nil {
		return err
	}
	return m.client.encoder.Decode(data, v)
}

// Document decodes the payload into a generic value.
func (m *Message) Document() (any, error) {
	var doc any
	if err := m.Into(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Read streams the raw payload.
func (m *Message) Read(p []byte) (n int, err error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.data.Read(p)
}

// Reply sends v back to the sender on the message's reply subject.
func (m *Message) Reply(v any) error {
	if m.err != nil {
		return m.err
	}

	data, err := intoDataReader(m.client.encoder, v)
	if err != nil {
		return err
	}

	return m.client.transport.Send(m.sourceServiceName, m.replySubject, m.client.serviceName, "", data)
}

// intoDataReader passes readers and raw documents through and encodes every
// other value, strings and byte slices included.
func intoDataReader(encoder Encoder, v any) (io.Reader, error) {
	switch dv := v.(type) {
	case io.Reader:
		return dv, nil
	case RawDocument:
		return bytes.NewReader(dv), nil
	}
	encodedData, err := encoder.Encode(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(encodedData), nil
}
