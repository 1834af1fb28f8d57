package sip

// Response status codes used internally by the dialog/transaction glue.
// Not exhaustive of RFC 3261 §21 - only the codes this module's own code
// constructs or matches on by name.
const (
	StatusTrying               StatusCode = 100
	StatusRinging              StatusCode = 180
	StatusCallIsBeingForwarded StatusCode = 181
	StatusQueued               StatusCode = 182
	StatusSessionProgress      StatusCode = 183

	StatusOK StatusCode = 200

	StatusMultipleChoices StatusCode = 300
	StatusMovedPermanently StatusCode = 301
	StatusMovedTemporarily StatusCode = 302

	StatusBadRequest                     StatusCode = 400
	StatusUnauthorized                   StatusCode = 401
	StatusPaymentRequired                StatusCode = 402
	StatusForbidden                      StatusCode = 403
	StatusNotFound                       StatusCode = 404
	StatusMethodNotAllowed                StatusCode = 405
	StatusRequestTimeout                 StatusCode = 408
	StatusCallTransactionDoesNotExists   StatusCode = 481
	StatusLoopDetected                   StatusCode = 482
	StatusTooManyHops                    StatusCode = 483
	StatusBusyHere                       StatusCode = 486
	StatusRequestTerminated              StatusCode = 487
	StatusNotAcceptableHere              StatusCode = 488
	StatusProxyAuthRequired              StatusCode = 407

	StatusInternalServerError StatusCode = 500
	StatusNotImplemented      StatusCode = 501
	StatusBadGateway          StatusCode = 502
	StatusServiceUnavailable  StatusCode = 503

	StatusBusyEverywhere     StatusCode = 600
	StatusDecline            StatusCode = 603
	StatusDoesNotExistAnywhere StatusCode = 604
)
