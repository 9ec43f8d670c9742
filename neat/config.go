package neat

import (
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// Config stores the configuration parameters for evolving recurrent networks.
type Config struct {
	Evolution  EvolutionConfig
	Network    NetworkConfig
	Mutation   MutationConfig
	Speciation SpeciationConfig
}

// EvolutionConfig holds parameters of the evolutionary loop itself.
type EvolutionConfig struct {
	PopSize              int     `ini:"pop_size"`
	FitnessCriterion     string  `ini:"fitness_criterion"` // "max", "min" or "mean"
	FitnessThreshold     float64 `ini:"fitness_threshold"`
	ResetOnExtinction    bool    `ini:"reset_on_extinction"`
	NoFitnessTermination bool    `ini:"no_fitness_termination"`
	Elitism              int     `ini:"elitism"`
	SurvivalThreshold    float64 `ini:"survival_threshold"`
	MaxWorkers           int     `ini:"max_workers"` // 0 means one worker per network
	MinSpeciesSize       int     `ini:"min_species_size"`
}

// NetworkConfig holds parameters describing the initial topology and unit behaviour.
type NetworkConfig struct {
	NumInputs         int    `ini:"num_inputs"`
	NumOutputs        int    `ini:"num_outputs"`
	NumHidden         int    `ini:"num_hidden"`
	Context           bool   `ini:"context"` // attach a memory unit to every hidden unit
	InitialConnection string `ini:"initial_connection"`

	HiddenActivation string `ini:"hidden_activation"`
	OutputActivation string `ini:"output_activation"`
	Aggregation      string `ini:"aggregation"`

	WeightInitMean  float64 `ini:"weight_init_mean"`
	WeightInitStdev float64 `ini:"weight_init_stdev"`
	WeightInitType  string  `ini:"weight_init_type"` // "gaussian" or "uniform"
	WeightMaxValue  float64 `ini:"weight_max_value"`
	WeightMinValue  float64 `ini:"weight_min_value"`
}

// MutationConfig holds the probabilities and magnitudes used by the genetic operators.
type MutationConfig struct {
	WeightMutateRate         float64 `ini:"weight_mutate_rate"`
	WeightReplaceRate        float64 `ini:"weight_replace_rate"`
	WeightMutatePower        float64 `ini:"weight_mutate_power"`
	ConnAddProb              float64 `ini:"conn_add_prob"`
	ConnDeleteProb           float64 `ini:"conn_delete_prob"`
	NodeAddProb              float64 `ini:"node_add_prob"`
	SingleStructuralMutation bool    `ini:"single_structural_mutation"`
}

// SpeciationConfig holds parameters for dividing the population into species and for
// removing species that stopped improving.
type SpeciationConfig struct {
	CompatibilityThreshold           float64 `ini:"compatibility_threshold"`
	CompatibilityDisjointCoefficient float64 `ini:"compatibility_disjoint_coefficient"`
	CompatibilityWeightCoefficient   float64 `ini:"compatibility_weight_coefficient"`
	SpeciesFitnessFunc               string  `ini:"species_fitness_func"`
	MaxStagnation                    int     `ini:"max_stagnation"`
	SpeciesElitism                   int     `ini:"species_elitism"` // species protected from stagnation
}

// LoadConfig loads configuration parameters from an INI file.
func LoadConfig(filePath string) (*Config, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:         true,
		UnescapeValueCommentSymbols: true,
	}, filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load config file '%s'", filePath)
	}
	return parseConfig(cfg)
}

// ParseConfig loads configuration parameters from raw INI data.
func ParseConfig(data []byte) (*Config, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:         true,
		UnescapeValueCommentSymbols: true,
	}, data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	return parseConfig(cfg)
}

func parseConfig(cfg *ini.File) (*Config, error) {
	config := &Config{}

	if err := cfg.Section("Evolution").MapTo(&config.Evolution); err != nil {
		return nil, errors.Wrap(err, "failed to map [Evolution] section")
	}
	if err := cfg.Section("Network").MapTo(&config.Network); err != nil {
		return nil, errors.Wrap(err, "failed to map [Network] section")
	}
	if err := cfg.Section("Mutation").MapTo(&config.Mutation); err != nil {
		return nil, errors.Wrap(err, "failed to map [Mutation] section")
	}
	if err := cfg.Section("Speciation").MapTo(&config.Speciation); err != nil {
		return nil, errors.Wrap(err, "failed to map [Speciation] section")
	}

	config.Evolution.FitnessCriterion = cleanIniString(config.Evolution.FitnessCriterion)
	config.Network.InitialConnection = cleanIniString(config.Network.InitialConnection)
	config.Network.HiddenActivation = cleanIniString(config.Network.HiddenActivation)
	config.Network.OutputActivation = cleanIniString(config.Network.OutputActivation)
	config.Network.Aggregation = cleanIniString(config.Network.Aggregation)
	config.Network.WeightInitType = cleanIniString(config.Network.WeightInitType)
	config.Speciation.SpeciesFitnessFunc = cleanIniString(config.Speciation.SpeciesFitnessFunc)

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyDefaults fills in values left empty by the file.
func (c *Config) applyDefaults() {
	if c.Evolution.FitnessCriterion == "" {
		c.Evolution.FitnessCriterion = "max"
	}
	if c.Evolution.SurvivalThreshold == 0 {
		c.Evolution.SurvivalThreshold = 0.2
	}
	if c.Evolution.MinSpeciesSize == 0 {
		c.Evolution.MinSpeciesSize = 1
	}
	if c.Network.InitialConnection == "" {
		c.Network.InitialConnection = "full"
	}
	if c.Network.HiddenActivation == "" {
		c.Network.HiddenActivation = "sigmoid"
	}
	if c.Network.OutputActivation == "" {
		c.Network.OutputActivation = "sigmoid"
	}
	if c.Network.Aggregation == "" {
		c.Network.Aggregation = "sum"
	}
	if c.Network.WeightInitType == "" {
		c.Network.WeightInitType = "gaussian"
	}
	if c.Network.WeightInitStdev == 0 {
		c.Network.WeightInitStdev = 1.0
	}
	if c.Network.WeightMaxValue == 0 && c.Network.WeightMinValue == 0 {
		c.Network.WeightMaxValue = 30
		c.Network.WeightMinValue = -30
	}
	if c.Speciation.CompatibilityThreshold == 0 {
		c.Speciation.CompatibilityThreshold = 3.0
	}
	if c.Speciation.CompatibilityDisjointCoefficient == 0 {
		c.Speciation.CompatibilityDisjointCoefficient = 1.0
	}
	if c.Speciation.CompatibilityWeightCoefficient == 0 {
		c.Speciation.CompatibilityWeightCoefficient = 0.5
	}
	if c.Speciation.SpeciesFitnessFunc == "" {
		c.Speciation.SpeciesFitnessFunc = "mean"
	}
	if c.Speciation.MaxStagnation == 0 {
		c.Speciation.MaxStagnation = 15
	}
}

// Validate checks the configuration for values the rest of the package cannot work with.
func (c *Config) Validate() error {
	if c.Evolution.PopSize <= 0 {
		return errors.New("config error: pop_size must be positive")
	}
	if c.Evolution.Elitism < 0 || c.Evolution.Elitism > c.Evolution.PopSize {
		return errors.New("config error: elitism must be between 0 and pop_size")
	}
	if c.Evolution.SurvivalThreshold < 0 || c.Evolution.SurvivalThreshold > 1 {
		return errors.New("config error: survival_threshold must be between 0 and 1")
	}
	if c.Evolution.MaxWorkers < 0 {
		return errors.New("config error: max_workers cannot be negative")
	}
	if c.Evolution.MinSpeciesSize <= 0 {
		return errors.New("config error: min_species_size must be positive")
	}
	validCriteria := map[string]bool{"max": true, "min": true, "mean": true}
	if !validCriteria[strings.ToLower(c.Evolution.FitnessCriterion)] {
		return errors.Errorf("config error: invalid fitness_criterion '%s', must be one of 'max', 'min', 'mean'", c.Evolution.FitnessCriterion)
	}

	if c.Network.NumInputs <= 0 {
		return errors.New("config error: num_inputs must be positive")
	}
	if c.Network.NumOutputs <= 0 {
		return errors.New("config error: num_outputs must be positive")
	}
	if c.Network.NumHidden < 0 {
		return errors.New("config error: num_hidden cannot be negative")
	}
	validConnections := map[string]bool{"unconnected": true, "full": true, "full_direct": true}
	if !validConnections[c.Network.InitialConnection] {
		return errors.Errorf("config error: invalid initial_connection type '%s'", c.Network.InitialConnection)
	}
	for _, name := range []string{c.Network.HiddenActivation, c.Network.OutputActivation} {
		if _, err := GetActivation(name); err != nil {
			return errors.Wrap(err, "config error")
		}
	}
	if _, err := GetAggregation(c.Network.Aggregation); err != nil {
		return errors.Wrap(err, "config error")
	}
	if c.Network.WeightMaxValue < c.Network.WeightMinValue {
		return errors.New("config error: weight_max_value cannot be less than weight_min_value")
	}
	switch strings.ToLower(c.Network.WeightInitType) {
	case "gaussian", "normal", "uniform":
	default:
		return errors.Errorf("config error: invalid weight_init_type '%s'", c.Network.WeightInitType)
	}
	if c.Network.WeightInitStdev < 0 {
		return errors.New("config error: weight_init_stdev cannot be negative")
	}

	probs := []struct {
		name string
		v    float64
	}{
		{"weight_mutate_rate", c.Mutation.WeightMutateRate},
		{"weight_replace_rate", c.Mutation.WeightReplaceRate},
		{"conn_add_prob", c.Mutation.ConnAddProb},
		{"conn_delete_prob", c.Mutation.ConnDeleteProb},
		{"node_add_prob", c.Mutation.NodeAddProb},
	}
	for _, p := range probs {
		if p.v < 0 || p.v > 1 {
			return errors.Errorf("config error: %s must be between 0 and 1", p.name)
		}
	}
	if c.Mutation.WeightMutateRate+c.Mutation.WeightReplaceRate > 1 {
		return errors.New("config error: weight_mutate_rate + weight_replace_rate cannot exceed 1")
	}
	if c.Mutation.WeightMutatePower < 0 {
		return errors.New("config error: weight_mutate_power cannot be negative")
	}

	if c.Speciation.CompatibilityThreshold < 0 {
		return errors.New("config error: compatibility_threshold cannot be negative")
	}
	if c.Speciation.CompatibilityDisjointCoefficient < 0 {
		return errors.New("config error: compatibility_disjoint_coefficient cannot be negative")
	}
	if c.Speciation.CompatibilityWeightCoefficient < 0 {
		return errors.New("config error: compatibility_weight_coefficient cannot be negative")
	}
	validStagnationFuncs := map[string]bool{"max": true, "min": true, "mean": true, "median": true, "sum": true}
	if !validStagnationFuncs[strings.ToLower(c.Speciation.SpeciesFitnessFunc)] {
		return errors.Errorf("config error: invalid species_fitness_func '%s'", c.Speciation.SpeciesFitnessFunc)
	}
	if c.Speciation.MaxStagnation <= 0 {
		return errors.New("config error: max_stagnation must be positive")
	}
	if c.Speciation.SpeciesElitism < 0 {
		return errors.New("config error: species_elitism cannot be negative")
	}
	return nil
}

// cleanIniString removes inline comments and trims whitespace from a string read from INI.
func cleanIniString(s string) string {
	if idx := strings.IndexAny(s, "#;"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
