package messages

import "fmt"

// ProtocolError is returned for frames that cannot be understood: unknown
// discriminators or payloads that do not decode. Receivers log and discard them.
type ProtocolError struct {
	Type string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("protocol error: %v", e.Err)
	}
	return fmt.Sprintf("protocol error in %s message: %v", e.Type, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ErrUnknownType builds the ProtocolError for a discriminator nobody handles.
func ErrUnknownType(msgType string) error {
	return &ProtocolError{Type: msgType, Err: fmt.Errorf("unknown message type")}
}
