package protocol

import "errors"

var (
	ErrInvalidDataLength = errors.New("invalid data length")
	ErrInvalidEnum       = errors.New("invalid enum")
)

var (
	ErrEmptyNodeID            = errors.New("node id must not be empty")
	ErrEmptyConfigurationName = errors.New("configuration name must not be empty")
	ErrEmptyFunctionID        = errors.New("function id must not be empty")
	ErrUnknownJobStatus       = errors.New("unknown job status")
	ErrInvalidInvocationTime  = errors.New("invocation time must be finite and not negative")
	ErrInvalidDataSize        = errors.New("data size must be finite and not negative")
)
