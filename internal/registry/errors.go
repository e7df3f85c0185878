package registry

import "fmt"

// DuplicateToolError reports a second registration under an already-taken
// name. Tool names are unique for the life of the process; hitting this at
// startup is a programming error.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool already registered: %s", e.Name)
}

// UnknownToolError reports a dispatch against a name that was never
// registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// ValidationError reports tool input that does not match the tool's input
// schema. Field is the offending field path and Want the expected shape.
type ValidationError struct {
	Tool  string
	Field string
	Want  string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("tool %s: invalid arguments: want %s", e.Tool, e.Want)
	}
	return fmt.Sprintf("tool %s: invalid argument %q: want %s", e.Tool, e.Field, e.Want)
}

// HandlerError wraps a failure raised by a tool body. The dispatcher converts
// panics and returned errors into this type so one failing call can never
// take down the session.
type HandlerError struct {
	Tool  string
	Cause error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Cause)
}

func (e *HandlerError) Unwrap() error { return e.Cause }
