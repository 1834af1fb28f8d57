package sip

import (
	"errors"
)

// Transaction related sentinel errors, returned by Transaction.Err() and
// matched with errors.Is by callers.
var (
	ErrTransactionCanceled   = errors.New("transaction canceled")
	ErrTransactionTerminated = errors.New("transaction terminated")
	ErrTransactionTimeout    = errors.New("transaction timeout")
)

// Transaction is the common surface of client and server transactions.
type Transaction interface {
	Terminate()
	Done() <-chan struct{}
	Err() error
}

// FnTxTerminate is called, possibly more than once, when a transaction
// terminates. err is nil on a clean completion.
type FnTxTerminate func(key string, err error)

// FnTxCancel is called when a CANCEL matching a server transaction arrives.
type FnTxCancel func(r *Request)

// ServerTransaction is the UAS side of a transaction, as used by request
// handlers registered on Server.
type ServerTransaction interface {
	Transaction
	Respond(res *Response) error
	Acks() <-chan *Request
	Cancels() <-chan *Request
	// OnCancel registers f to run on a received CANCEL. Returns false if the
	// transaction is already terminated.
	OnCancel(f FnTxCancel) bool
	// OnTerminate registers f to run on termination. Returns false if the
	// transaction is already terminated (f is not called in that case).
	OnTerminate(f FnTxTerminate) bool
}

// ClientTransaction is the UAC side of a transaction.
type ClientTransaction interface {
	Transaction
	Responses() <-chan *Response
	Cancel() error
}
