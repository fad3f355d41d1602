package objenc

import (
	"errors"
	"sync"
)

// ErrBindingClosed is carried by messages read from an unbound binding.
var ErrBindingClosed = errors.New("binding closed")

// BindType specifies whether a binding receives all documents (broadcast)
// or only a share of them (load-balanced).
type BindType int

const (
	// BindTypeNormal means all instances receive each document.
	BindTypeNormal BindType = iota
	// BindTypeOnce is like BindTypeNormal but unbinds after one document.
	BindTypeOnce
	// BindTypeQueue means only one instance receives each document.
	BindTypeQueue
)

// Binding is a subscription to documents on one subject. Consume it either
// with Next or with To.
type Binding struct {
	client      *Client
	bindType    BindType
	subject     string
	handlerChan chan *Message
	seq         uint64

	mu    sync.Mutex
	bound bool
}

func newBinding(client *Client, bindType BindType, subject string) *Binding {
	b := &Binding{
		client:      client,
		bindType:    bindType,
		subject:     subject,
		handlerChan: make(chan *Message, 100),
		seq:         client.bindingSeq.Add(1),
		bound:       true,
	}

	mu, chans := b.registry()
	mu.Lock()
	defer mu.Unlock()
	if _, ok := chans[subject]; !ok {
		chans[subject] = make(map[*Binding]chan *Message)
	}
	chans[subject][b] = b.handlerChan

	return b
}

func (b *Binding) registry() (*sync.RWMutex, map[string]map[*Binding]chan *Message) {
	if b.bindType == BindTypeQueue {
		return &b.client.queueHandlerChansMu, b.client.queueHandlerChans
	}
	return &b.client.handlerChansMu, b.client.handlerChans
}

// Subject returns the subject the binding listens on.
func (b *Binding) Subject() string {
	return b.subject
}

// IsBound reports whether the binding still receives documents.
func (b *Binding) IsBound() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bound
}

// Next blocks until the next document arrives. After Unbind it returns a
// message carrying ErrBindingClosed.
func (b *Binding) Next() *Message {
	msg, ok := <-b.handlerChan
	if !ok {
		return &Message{err: ErrBindingClosed}
	}
	if b.bindType == BindTypeOnce {
		b.Unbind()
	}
	return msg
}

// To calls handler for each document on its own goroutine until the
// binding is unbound.
func (b *Binding) To(handler func(msg *Message)) *Binding {
	go func() {
		for msg := range b.handlerChan {
			handler(msg)
			if b.bindType == BindTypeOnce {
				b.Unbind()
				return
			}
		}
	}()
	return b
}

// Unbind unsubscribes and releases the binding. Calling it again is a no-op.
func (b *Binding) Unbind() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.bound {
		return
	}
	b.bound = false

	mu, chans := b.registry()
	mu.Lock()
	defer mu.Unlock()
	delete(chans[b.subject], b)
	if len(chans[b.subject]) == 0 {
		delete(chans, b.subject)
	}
	close(b.handlerChan)
}
