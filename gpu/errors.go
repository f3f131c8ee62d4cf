package gpu

import (
	"errors"
	"fmt"
)

var (
	// ErrFeedbackLoop is reported when a draw would sample the texture it writes.
	ErrFeedbackLoop = errors.New("texture bound as both input and target")

	// ErrReleased is reported when a released resource is used.
	ErrReleased = errors.New("resource released")
)

// ShaderCompileError reports a program that failed to compile or link.
type ShaderCompileError struct {
	Program string
	Stage   string // "vertex", "fragment" or "link"
	Log     string
}

func (e *ShaderCompileError) Error() string {
	return fmt.Sprintf("compiling %s (%s): %s", e.Program, e.Stage, e.Log)
}

// ResourceAllocationError reports a failure to create or fill device storage.
type ResourceAllocationError struct {
	Resource string
	Err      error
}

func (e *ResourceAllocationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("allocating %s", e.Resource)
	}
	return fmt.Sprintf("allocating %s: %v", e.Resource, e.Err)
}

func (e *ResourceAllocationError) Unwrap() error { return e.Err }

// BindingError reports a uniform, block or attribute that could not be bound.
type BindingError struct {
	Program string
	Name    string
	Err     error
}

func (e *BindingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("binding %q in %s: location not found", e.Name, e.Program)
	}
	return fmt.Sprintf("binding %q in %s: %v", e.Name, e.Program, e.Err)
}

func (e *BindingError) Unwrap() error { return e.Err }
