package adapters

import (
	"errors"
	"fmt"
)

var (
	ErrProviderConfiguration = errors.New("provider_configuration_error")
	ErrProviderExecution     = errors.New("provider_execution_error")
	ErrTransport             = errors.New("transport_error")
)

// ConfigurationError reports a provider that cannot be called as configured.
type ConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("provider %s misconfigured: %s", e.Provider, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrProviderConfiguration }

// ExecutionError carries the vendor's own message for a non-2xx response.
type ExecutionError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("provider %s failed with status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *ExecutionError) Unwrap() error { return ErrProviderExecution }

// TransportError wraps a network failure or timeout.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("provider %s transport failure: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// Message returns a caller-facing message for any adapter error.
func Message(err error) string {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Message
	}
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return cfgErr.Reason
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return "provider did not respond in time"
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
