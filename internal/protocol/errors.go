package protocol

import "errors"

var (
	ErrWrongPayloadFormat = errors.New("protocol: wrong payload format")
	ErrUnexpectedMessage  = errors.New("protocol: unexpected message type")
)
