package opengl

import (
	"fmt"

	"github.com/go-gl/glfw/v3.3/glfw"
)

// Context is a hidden window owning a 3.3 core context, for runs that draw
// nothing to the screen.
type Context struct {
	window *glfw.Window
}

// NewContext creates the window and makes its context current. The caller
// must have locked the OS thread.
func NewContext() (*Context, error) {
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("initializing glfw: %w", err)
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.ContextVersionMajor, 3)
	glfw.WindowHint(glfw.ContextVersionMinor, 3)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)

	window, err := glfw.CreateWindow(64, 64, "flux", nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("creating context window: %w", err)
	}
	window.MakeContextCurrent()
	return &Context{window: window}, nil
}

// Close destroys the window and shuts glfw down.
func (c *Context) Close() {
	if c.window == nil {
		return
	}
	c.window.Destroy()
	c.window = nil
	glfw.Terminate()
}
