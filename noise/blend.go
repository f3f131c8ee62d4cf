package noise

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/flux/shaders"
)

// BlendMethod selects how a channel's noise is folded into the velocity.
type BlendMethod int

const (
	// Curl adds the curl of the noise, a divergence-free swirl.
	Curl BlendMethod = iota
	// Wiggle adds the noise itself as a displacement.
	Wiggle
)

func (m BlendMethod) String() string {
	switch m {
	case Curl:
		return "curl"
	case Wiggle:
		return "wiggle"
	default:
		return fmt.Sprintf("BlendMethod(%d)", int(m))
	}
}

// program returns the pass that implements the method.
func (m BlendMethod) program() string {
	if m == Wiggle {
		return shaders.BlendWithWiggle
	}
	return shaders.BlendWithCurl
}

// Valid reports whether m is a known method.
func (m BlendMethod) Valid() bool {
	return m == Curl || m == Wiggle
}

// ParseBlendMethod parses "curl" or "wiggle", case-insensitively.
func ParseBlendMethod(s string) (BlendMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "curl":
		return Curl, nil
	case "wiggle":
		return Wiggle, nil
	default:
		return 0, fmt.Errorf("unknown blend method %q", s)
	}
}

// MarshalText writes the method by name.
func (m BlendMethod) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("unknown blend method %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText reads the method by name.
func (m *BlendMethod) UnmarshalText(text []byte) error {
	parsed, err := ParseBlendMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalYAML writes the method by name.
func (m BlendMethod) MarshalYAML() (any, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("unknown blend method %d", int(m))
	}
	return m.String(), nil
}

// UnmarshalYAML reads the method by name.
func (m *BlendMethod) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("blend method: %w", err)
	}
	parsed, err := ParseBlendMethod(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
