package neat

import (
	"github.com/pkg/errors"
)

// AggregationType combines the weighted inputs arriving at a unit.
type AggregationType func(inputs []float64) float64

// AggregationFunctions maps names usable in configuration to aggregation functions.
var AggregationFunctions = map[string]AggregationType{
	"sum":     Sum,
	"product": AggregateProduct,
	"min":     AggregateMin,
	"max":     AggregateMax,
	"mean":    Mean,
	"median":  AggregateMedian,
	"average": Mean,
}

// GetAggregation retrieves an aggregation function by name.
func GetAggregation(name string) (AggregationType, error) {
	if fn, ok := AggregationFunctions[name]; ok {
		return fn, nil
	}
	return nil, errors.Errorf("unknown aggregation function: %s", name)
}

// AggregateProduct multiplies the inputs. A unit with no inputs yields 0.
func AggregateProduct(inputs []float64) float64 {
	if len(inputs) == 0 {
		return 0.0
	}
	product := 1.0
	for _, v := range inputs {
		product *= v
	}
	return product
}

// AggregateMin returns the smallest input. Unlike MinFloat it yields 0 for a unit with no inputs.
func AggregateMin(inputs []float64) float64 {
	if len(inputs) == 0 {
		return 0.0
	}
	return MinFloat(inputs)
}

// AggregateMax returns the largest input, or 0 for a unit with no inputs.
func AggregateMax(inputs []float64) float64 {
	if len(inputs) == 0 {
		return 0.0
	}
	return MaxFloat(inputs)
}

// AggregateMedian returns the median input, or 0 for a unit with no inputs.
func AggregateMedian(inputs []float64) float64 {
	if len(inputs) == 0 {
		return 0.0
	}
	return Median(inputs)
}
