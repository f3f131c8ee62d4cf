package gpu

// UniformValue is a value assignable to a program uniform.
type UniformValue interface {
	isUniform()
}

// Float is a float uniform.
type Float float32

// Int is an int uniform.
type Int int32

// Vec2 is a vec2 uniform.
type Vec2 [2]float32

// Sampler is a sampler2D uniform holding a texture unit.
type Sampler int

func (Float) isUniform()   {}
func (Int) isUniform()     {}
func (Vec2) isUniform()    {}
func (Sampler) isUniform() {}

// Uniform pairs a uniform name with its value.
type Uniform struct {
	Name  string
	Value UniformValue
}
