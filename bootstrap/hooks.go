package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kbukum/taskguard/logger"
)

// Hook is a lifecycle callback.
type Hook func(ctx context.Context) error

type phase string

const (
	phaseStart phase = "on_start"
	phaseReady phase = "on_ready"
	phaseStop  phase = "on_stop"
)

// OnStart registers hooks run once every component has started. The first
// failing hook aborts startup.
func (a *App[C]) OnStart(hooks ...Hook) { a.hooks[phaseStart] = append(a.hooks[phaseStart], hooks...) }

// OnReady registers hooks run after the ready check, before Run blocks.
func (a *App[C]) OnReady(hooks ...Hook) { a.hooks[phaseReady] = append(a.hooks[phaseReady], hooks...) }

// OnStop registers hooks run before components stop. All of them run even
// when one fails.
func (a *App[C]) OnStop(hooks ...Hook) { a.hooks[phaseStop] = append(a.hooks[phaseStop], hooks...) }

func (a *App[C]) runPhase(ctx context.Context, p phase) error {
	var errs []error
	for i, h := range a.hooks[p] {
		began := time.Now()
		err := callHook(ctx, h)
		fields := logger.DurationFields(string(p), time.Since(began))
		fields["hook"] = i
		if err == nil {
			a.Logger.Debug("Hook finished", fields)
			continue
		}
		err = fmt.Errorf("%s hook %d: %w", p, i, err)
		if p != phaseStop {
			return err
		}
		a.Logger.Error("Hook failed", logger.MergeWithError(fields, err))
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func callHook(ctx context.Context, h Hook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx)
}
