package provider

import "errors"

var (
	// ErrUnsupported is returned for model ids no registered provider claims
	ErrUnsupported = errors.New("unsupported model provider")
	// ErrCredentialMissing is returned when no API key is found for a provider
	ErrCredentialMissing = errors.New("provider credential missing")
)
