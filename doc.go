// Package neat evolves Elman-style recurrent neural networks with a genetic algorithm.
//
// The building block is the Unit: a node with a unique, monotonically increasing id, an
// input and an output, weighted outgoing connections keyed by the target's id, and an
// optional memory unit. Setting a unit's output also sets the output of its memory unit,
// which then feeds the stored value back into the network on the next evaluation cycle.
// A bias unit always has input 1.
//
// Networks are evolved by mutating weights and structure and by crossover between parents
// whose units are aligned by id. Each generation the population is split into species by
// compatibility distance; offspring are bred within a species, and species that stop
// improving are removed. Evaluation happens in the nn sub-package.
//
// Basic usage:
//
//	// Load configuration
//	config, err := neat.LoadConfig("path/to/config.ini")
//	if err != nil {
//		log.Fatalf("Error loading config: %v", err)
//	}
//
//	// Create a new population
//	pop, err := neat.NewPopulation(config, neat.WithLogger(logger))
//	if err != nil {
//		log.Fatalf("Error creating population: %v", err)
//	}
//
//	fitness := func(ctx context.Context, net *neat.Network) (float64, error) {
//		rnn, err := nn.CreateRecurrentNetwork(net, &config.Network)
//		if err != nil {
//			return 0, err
//		}
//		outputs, err := rnn.Run(sequence)
//		if err != nil {
//			return 0, err
//		}
//		return score(outputs), nil
//	}
//
//	// Run for 100 generations
//	for i := 0; i < 100; i++ {
//		winner, err := pop.RunGeneration(ctx, fitness)
//		if err != nil {
//			log.Fatalf("Error running generation: %v", err)
//		}
//
//		if winner != nil {
//			fmt.Println("Solution found!")
//			break
//		}
//	}
package neat
