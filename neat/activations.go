package neat

import (
	"math"

	"github.com/pkg/errors"
)

// ActivationType is a unit transfer function.
type ActivationType func(x float64) float64

// ActivationFunctions maps names usable in configuration to activation functions.
var ActivationFunctions = map[string]ActivationType{
	"sigmoid":  Sigmoid,
	"tanh":     Tanh,
	"relu":     ReLU,
	"identity": Identity,
	"clamped":  Clamped,
	"gaussian": Gaussian,
	"step":     Step,
	"abs":      math.Abs,
	"sine":     math.Sin,
}

// GetActivation retrieves an activation function by name.
func GetActivation(name string) (ActivationType, error) {
	if fn, ok := ActivationFunctions[name]; ok {
		return fn, nil
	}
	return nil, errors.Errorf("unknown activation function: %s", name)
}

// Sigmoid is the steepened logistic function 1 / (1 + exp(-4.9x)).
func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-4.9*clamp(x, -60, 60)))
}

// Tanh activation function.
func Tanh(x float64) float64 {
	return math.Tanh(x)
}

// ReLU activation function.
func ReLU(x float64) float64 {
	return math.Max(0, x)
}

// Identity activation function.
func Identity(x float64) float64 {
	return x
}

// Clamped limits x to [-1, 1].
func Clamped(x float64) float64 {
	return clamp(x, -1.0, 1.0)
}

// Gaussian activation function exp(-x²/2).
func Gaussian(x float64) float64 {
	return math.Exp(-x * x / 2.0)
}

// Step is the Heaviside step: 1 for x > 0, otherwise 0.
func Step(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}
