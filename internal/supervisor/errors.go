package supervisor

import "fmt"

// ConfigurationError reports a missing tool or unusable job input, detected
// before the engine is launched.
type ConfigurationError struct {
	Tool string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not usable: %v", e.Tool, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ProcessError reports an engine run that produced no usable artifacts.
type ProcessError struct {
	ExitCode int
	Message  string
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("engine exited with code %d: %s", e.ExitCode, e.Message)
}
