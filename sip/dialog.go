package sip

// DialogState is the lifecycle stage of a dialog, as tracked by the atomic
// state machine in the root dialog types.
type DialogState int32

const (
	// DialogStateEstablished marks a dialog that has received its 200 response.
	DialogStateEstablished DialogState = iota
	// DialogStateConfirmed marks a dialog whose ACK has been sent/received.
	DialogStateConfirmed
	// DialogStateEnded marks a dialog that has received/sent BYE.
	DialogStateEnded
)

func (s DialogState) String() string {
	switch s {
	case DialogStateEstablished:
		return "established"
	case DialogStateConfirmed:
		return "confirmed"
	case DialogStateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Dialog is a lightweight dialog state-change notification, published by
// ServerDialog for passive observers. It is distinct from the stateful
// session types (Dialog, DialogClientSession, DialogServerSession) at the
// package root.
type Dialog struct {
	ID    string
	State DialogState
}

// UASReadRequestDialogID builds the dialog ID a UAS would use for req.
func UASReadRequestDialogID(req *Request) (string, error) {
	return DialogIDFromRequestUAS(req)
}

// UACReadRequestDialogID builds the dialog ID a UAC would use for req.
func UACReadRequestDialogID(req *Request) (string, error) {
	return DialogIDFromRequestUAC(req)
}

// MakeDialogID joins the call-id and the two tags into a single dialog key.
func MakeDialogID(callID, innerTag, externalTag string) string {
	return DialogIDMake(callID, innerTag, externalTag)
}

// MakeDialogIDFromResponse builds the dialog ID carried by a response.
func MakeDialogIDFromResponse(res *Response) (string, error) {
	return DialogIDFromResponse(res)
}

// MakeDialogIDFromMessage builds the dialog ID carried by msg, whichever of
// Request or Response it happens to be.
func MakeDialogIDFromMessage(msg Message) (string, error) {
	switch m := msg.(type) {
	case *Request:
		return DialogIDFromRequestUAS(m)
	case *Response:
		return DialogIDFromResponse(m)
	default:
		var callID, toTag, fromTag string
		if err := getDialogIDFromMessage(msg, &callID, &toTag, &fromTag); err != nil {
			return "", err
		}
		return DialogIDMake(callID, toTag, fromTag), nil
	}
}
