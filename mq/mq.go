package mq

import "context"

// MessageQueue is the transport behind asynchronous chat maintenance work,
// currently the re-key jobs produced when a participant is removed.
type MessageQueue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, visibilityTimeout int32) (*Message, error)
	Delete(ctx context.Context, msg *Message) error
}

// Message is one received queue entry. ReceiptHandle is the opaque token
// the broker expects back in Delete.
type Message struct {
	ReceiptHandle string
	Body          string
}
