package idgen

import (
	"github.com/google/uuid"
)

// ID prefixes for different models
const (
	PrefixRequest = "req_"
	PrefixClient  = "cli_"
)

// NewRequestID generates a correlation ID for one API call with req_ prefix
func NewRequestID() string {
	return PrefixRequest + uuid.New().String()
}

// NewClientID generates an MQTT client identity with cli_ prefix
func NewClientID() string {
	return PrefixClient + uuid.New().String()
}
