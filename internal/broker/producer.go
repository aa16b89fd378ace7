package broker

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Producer commands.
var producerCommands = []string{"num_players", "num_servers"}

// Producer emits "<command>/<1..100>" values for every command each
// interval. The sequence is deterministic for a seed.
type Producer struct {
	commands []string
	interval time.Duration
	rnd      *rand.Rand
}

// NewProducer creates a producer for the default commands.
func NewProducer(interval time.Duration, seed uint64) *Producer {
	return &Producer{
		commands: producerCommands,
		interval: interval,
		rnd:      rand.New(rand.NewPCG(seed, 1024)),
	}
}

// Next returns one value per command.
func (p *Producer) Next() []string {
	out := make([]string, len(p.commands))
	for i, cmd := range p.commands {
		out[i] = fmt.Sprintf("%s/%d", cmd, p.rnd.IntN(100)+1)
	}
	return out
}

// Run calls emit with each batch until ctx is done.
func (p *Producer) Run(ctx context.Context, emit func(values []string)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			emit(p.Next())
		}
	}
}
