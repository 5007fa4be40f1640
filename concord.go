// Package concord wires configuration into a running collaboration: it
// instantiates participants through the factory registry, builds the
// shared memory backend and protocol, and runs tasks through the manager.
package concord

import (
	"context"
	"fmt"
	"log"

	"github.com/concord-dev/concord/agent"
	"github.com/concord-dev/concord/collab"
	"github.com/concord-dev/concord/memory"
	"github.com/concord-dev/concord/pkg/config"
	"github.com/concord-dev/concord/protocol"
)

// NewManager assembles a collaboration manager from configuration. The
// returned manager owns an in-process blackboard unless the config selects
// the redis backend; closing the manager's memory is the caller's job.
func NewManager(cfg *config.Config) (*collab.Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	proto, err := protocol.New(cfg.Protocol)
	if err != nil {
		return nil, err
	}

	var mem memory.SharedMemory
	switch cfg.Memory.Backend {
	case "redis":
		mem, err = memory.NewRedisStore(memory.RedisConfig{
			Addr:     cfg.Memory.Redis.Addr,
			Password: cfg.Memory.Redis.Password,
			DB:       cfg.Memory.Redis.DB,
			Prefix:   cfg.Memory.Redis.Prefix,
			PoolSize: cfg.Memory.Redis.PoolSize,
		})
		if err != nil {
			return nil, fmt.Errorf("redis shared memory: %w", err)
		}
	default:
		mem = memory.NewStore()
	}

	opts := []collab.Option{
		collab.WithProtocol(proto),
		collab.WithMemory(mem),
		collab.WithMaxRounds(cfg.MaxRounds),
		collab.WithFallback(collab.FallbackMode(cfg.Routing.Fallback)),
	}
	if len(cfg.Routing.Keywords) > 0 {
		opts = append(opts, collab.WithAnalyzer(collab.KeywordAnalyzer{Keywords: cfg.Routing.Keywords}))
	}
	if cfg.Runtime.ParallelTurns {
		opts = append(opts, collab.WithParallelTurns())
	}
	if cfg.Runtime.SendRate > 0 {
		opts = append(opts, collab.WithSendRate(cfg.Runtime.SendRate, cfg.Runtime.SendBurst))
	}

	mgr := collab.NewManager(opts...)
	for _, def := range cfg.Participants {
		p, err := agent.New(def)
		if err != nil {
			return nil, fmt.Errorf("participant %q: %w", def.ID, err)
		}
		if err := mgr.Register(p); err != nil {
			return nil, fmt.Errorf("participant %q: %w", def.ID, err)
		}
	}
	return mgr, nil
}

// Run loads configuration from path and collaborates on a single task.
func Run(ctx context.Context, path, task string) (*collab.Result, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	mgr, err := NewManager(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := mgr.Memory().Close(); err != nil {
			log.Printf("shared memory close: %v", err)
		}
	}()
	return mgr.Collaborate(ctx, task)
}
