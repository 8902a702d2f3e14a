// Package wait provides the delay node that parks executions.
package wait

import (
	"errors"
	"fmt"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/protocol"
)

const defaultCheckEvery = time.Minute

var errExactlyOneMode = errors.New("exactly one of duration, cron_expression or until must be set")

type Config struct {
	Duration       string            `json:"duration"`
	CronExpression string            `json:"cron_expression"`
	Until          *models.Predicate `json:"until"`
	CheckEvery     string            `json:"check_every"`
	Timeout        string            `json:"timeout"`
}

// Wait is a fixed, cron based or predicate based delay.
type Wait struct {
	duration   time.Duration
	cron       string
	until      *models.Predicate
	checkEvery time.Duration
	timeout    time.Duration
}

func (w *Wait) Next(now, since time.Time, execCtx models.Context) (protocol.DelayDecision, error) {
	switch {
	case w.duration > 0:
		return protocol.DelayDecision{WakeAt: now.Add(w.duration)}, nil
	case w.cron != "":
		next, err := models.NextCronTime(w.cron, now)
		if err != nil {
			return protocol.DelayDecision{}, protocol.Permanent(err)
		}

		return protocol.DelayDecision{WakeAt: next}, nil
	}

	ok, err := w.until.Evaluate(execCtx)
	if err != nil {
		return protocol.DelayDecision{}, protocol.Permanent(err)
	}

	if ok {
		return protocol.DelayDecision{Ready: true}, nil
	}

	wakeAt := now.Add(w.checkEvery)

	if w.timeout > 0 {
		deadline := since.Add(w.timeout)
		if !now.Before(deadline) {
			return protocol.DelayDecision{}, protocol.Permanent(
				fmt.Errorf("%w after %s", protocol.ErrDelayTimeout, w.timeout))
		}

		if wakeAt.After(deadline) {
			wakeAt = deadline
		}
	}

	return protocol.DelayDecision{WakeAt: wakeAt, Recheck: true}, nil
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string            { return "wait" }
func (f *Factory) Kind() models.NodeKind { return models.NodeKindDelay }
func (f *Factory) Name() string          { return "Wait" }

func (f *Factory) Description() string {
	return "Pauses the execution for a duration, until a cron time, or until a condition holds"
}

func (f *Factory) Schema() map[string]any {
	duration := map[string]any{
		"type":    "string",
		"pattern": `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration": merge(duration, map[string]any{
				"description": "Fixed wait, e.g. 10m or 24h",
			}),
			"cron_expression": map[string]any{
				"type":        "string",
				"description": "Resume at the next fire time of a 5 field cron expression",
				"examples":    []string{"0 9 * * 1-5", "@daily"},
			},
			"until": map[string]any{
				"type":        "object",
				"description": "Predicate re-checked every check_every until it holds",
			},
			"check_every": merge(duration, map[string]any{"default": "1m"}),
			"timeout": merge(duration, map[string]any{
				"description": "Fail the execution when until does not hold within this time",
			}),
		},
		"oneOf": []map[string]any{
			{"required": []string{"duration"}},
			{"required": []string{"cron_expression"}},
			{"required": []string{"until"}},
		},
		"additionalProperties": false,
	}
}

func merge(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}

	for k, v := range extra {
		out[k] = v
	}

	return out
}

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", protocol.ErrInvalidConfig, name, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", protocol.ErrInvalidConfig, name)
	}

	return d, nil
}

func (f *Factory) Create(config map[string]any) (protocol.Delay, error) {
	var cfg Config
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	modes := 0
	for _, set := range []bool{cfg.Duration != "", cfg.CronExpression != "", cfg.Until != nil} {
		if set {
			modes++
		}
	}

	if modes != 1 {
		return nil, fmt.Errorf("%w: %w", protocol.ErrInvalidConfig, errExactlyOneMode)
	}

	wait := &Wait{cron: cfg.CronExpression, until: cfg.Until, checkEvery: defaultCheckEvery}

	var err error

	if wait.duration, err = parseDuration("duration", cfg.Duration); err != nil {
		return nil, err
	}

	if cfg.CronExpression != "" {
		if _, err := models.ParseCron(cfg.CronExpression); err != nil {
			return nil, fmt.Errorf("%w: %w", protocol.ErrInvalidConfig, err)
		}
	}

	if cfg.Until != nil {
		if err := cfg.Until.Validate(); err != nil {
			return nil, fmt.Errorf("%w: until: %w", protocol.ErrInvalidConfig, err)
		}

		every, err := parseDuration("check_every", cfg.CheckEvery)
		if err != nil {
			return nil, err
		}

		if every > 0 {
			wait.checkEvery = every
		}

		if wait.timeout, err = parseDuration("timeout", cfg.Timeout); err != nil {
			return nil, err
		}
	}

	return wait, nil
}
