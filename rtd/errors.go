package rtd

import "fmt"

// ConfigError reports a malformed or out-of-range configuration field.
// Registration fails with it and leaves no side effects.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("adloox rtd: config field %q %s", e.Field, e.Reason)
}

// ResponseParseError reports an unusable classification payload. It is
// logged and swallowed so the auction proceeds without augmentation.
type ResponseParseError struct {
	Err error
}

func (e *ResponseParseError) Error() string {
	return "adloox rtd: unusable response: " + e.Err.Error()
}

func (e *ResponseParseError) Unwrap() error {
	return e.Err
}
