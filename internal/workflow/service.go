package workflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/deepresearch-labs/orchestrator/internal/agents"
)

// Service executes research workflow runs against a shared agent pool. It
// satisfies the session manager's Runner contract.
type Service struct {
	cfg    Config
	pool   agents.Pool
	logger *zap.Logger
}

// NewService creates the workflow runner. The pool is built once at startup
// and reused across runs.
func NewService(cfg Config, pool agents.Pool, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, pool: pool, logger: logger}
}

// Run executes one research workflow. The run-scoped deadline and
// cancellation arrive through ctx; progress receives every progress message
// in emission order.
func (s *Service) Run(ctx context.Context, sessionID, topic string, maxCycles int, progress func(msg string)) (string, int, error) {
	run := NewRun(sessionID, maxCycles, progress)
	engine := NewResearch(s.cfg, s.logger).Engine()

	report, err := engine.Execute(ctx, run, StartEvent{Topic: topic, Agents: s.pool})
	if err != nil {
		return "", run.Cycles(), err
	}
	return report, run.Cycles(), nil
}
