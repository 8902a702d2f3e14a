package cmd

import (
	"github.com/dukex/crmflow/pkg/config"
	"github.com/dukex/crmflow/pkg/delay"
	"github.com/dukex/crmflow/pkg/workflow"
)

// ExecutorConfig maps the engine settings onto the step executor.
func ExecutorConfig(engine config.Engine) workflow.Config {
	cfg := workflow.DefaultConfig()
	cfg.NodeTimeout = engine.NodeTimeout
	cfg.MaxAttempts = engine.MaxAttempts
	cfg.RetryBackoff = engine.RetryBackoff
	// Per-node budgets stay below the lease TTL.
	cfg.MaxNodeTimeout = engine.LeaseTTL - engine.LeaseTTL/3

	return cfg
}

// SchedulerConfig maps the engine settings onto the execution scheduler.
func SchedulerConfig(engine config.Engine) workflow.SchedulerConfig {
	return workflow.SchedulerConfig{
		Workers:      engine.Workers,
		LeaseTTL:     engine.LeaseTTL,
		PollInterval: engine.PollInterval,
	}
}

// DelayConfig maps the engine settings onto the delay manager. Due wakeups are scanned
// at the scheduler poll interval.
func DelayConfig(engine config.Engine) delay.Config {
	return delay.Config{
		ScanInterval: engine.PollInterval,
		BatchSize:    engine.ScanBatch,
	}
}
