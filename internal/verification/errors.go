package verification

import "fmt"

// ConfigurationError reports an action that cannot run as configured, such as
// a target field missing from its information source. It is fatal to the
// action only.
type ConfigurationError struct {
	ActionID string
	Field    string
	Source   string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("action %s: %s", e.ActionID, e.Reason)
	if e.Field != "" {
		msg += fmt.Sprintf(": field %q", e.Field)
	}
	if e.Source != "" {
		msg += fmt.Sprintf(" (source %q)", e.Source)
	}
	return msg
}
