package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kbukum/taskguard/component"
	"github.com/kbukum/taskguard/logger"
)

// App owns a service's validated config, its logger and its components,
// and runs them from startup to graceful shutdown.
type App[C Config] struct {
	Name       string
	Version    string
	Cfg        C
	Components *component.Registry
	Logger     *logger.Logger

	gracefulTimeout time.Duration
	startTimeout    time.Duration
	hooks           map[phase][]Hook
}

// NewApp applies defaults to cfg and validates it.
func NewApp[C Config](cfg C, opts ...Option) (*App[C], error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	base := cfg.GetBaseConfig()
	log := s.log
	if log == nil {
		log = logger.New(&base.Logging, base.Name)
	}
	log = log.WithFields(logger.Fields("version", base.Version, "environment", base.Environment))

	return &App[C]{
		Name:            base.Name,
		Version:         base.Version,
		Cfg:             cfg,
		Components:      component.NewRegistry(log, s.registry...),
		Logger:          log,
		gracefulTimeout: s.gracefulTimeout,
		startTimeout:    s.startTimeout,
		hooks:           make(map[phase][]Hook),
	}, nil
}

// RegisterComponent adds c. Components start in registration order and
// stop in reverse.
func (a *App[C]) RegisterComponent(c component.Component) error {
	return a.Components.Register(c)
}

// NotReadyError lists the components that were not healthy.
type NotReadyError struct {
	Components []component.Health
}

func (e *NotReadyError) Error() string {
	parts := make([]string, len(e.Components))
	for i, h := range e.Components {
		parts[i] = h.Name + "=" + string(h.Status)
		if h.Message != "" {
			parts[i] += "(" + h.Message + ")"
		}
	}
	return "components not healthy: " + strings.Join(parts, ", ")
}

// ReadyCheck returns a *NotReadyError when any component is not healthy.
func (a *App[C]) ReadyCheck(ctx context.Context) error {
	var bad []component.Health
	for _, h := range a.Components.HealthAll(ctx) {
		if h.Status != component.StatusHealthy {
			bad = append(bad, h)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	return &NotReadyError{Components: bad}
}

// Run starts the components, blocks until ctx is done, then shuts down
// within the graceful timeout. A startup failure stops whatever started.
func (a *App[C]) Run(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		if stopErr := a.shutdown(); stopErr != nil {
			a.Logger.Error("Cleanup after failed startup", logger.ErrorFields("stop", stopErr))
		}
		return err
	}

	<-ctx.Done()
	a.Logger.Info("Shutdown requested", logger.Fields("cause", context.Cause(ctx).Error()))
	return a.shutdown()
}

func (a *App[C]) start(ctx context.Context) error {
	began := time.Now()
	a.Logger.Info("Starting " + a.Name)

	startCtx := ctx
	if a.startTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, a.startTimeout)
		defer cancel()
	}
	if err := a.Components.StartAll(startCtx); err != nil {
		return fmt.Errorf("failed to start components: %w", err)
	}
	if err := a.runPhase(ctx, phaseStart); err != nil {
		return err
	}

	healths := a.Components.HealthAll(ctx)
	for _, h := range healths {
		fields := logger.Fields(logger.FieldComponent, h.Name, logger.FieldStatus, string(h.Status))
		if h.Message != "" {
			fields["message"] = h.Message
		}
		if h.Status == component.StatusHealthy {
			a.Logger.Info("Component ready", fields)
		} else {
			a.Logger.Warn("Component not healthy at startup", fields)
		}
	}
	if err := a.runPhase(ctx, phaseReady); err != nil {
		return err
	}

	fields := logger.DurationFields("startup", time.Since(began))
	fields[logger.FieldStatus] = string(component.Overall(healths))
	a.Logger.Info("Startup complete", fields)
	return nil
}

func (a *App[C]) shutdown() error {
	a.Logger.Info("Shutting down", logger.Fields("timeout", a.gracefulTimeout.String()))
	ctx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
	defer cancel()

	hookErr := a.runPhase(ctx, phaseStop)
	stopErr := a.Components.StopAll(ctx)
	if stopErr != nil {
		a.Logger.Error("Shutdown completed with errors", logger.ErrorFields("stop", stopErr))
	} else {
		a.Logger.Info("Shutdown complete")
	}
	if stopErr != nil {
		return stopErr
	}
	return hookErr
}
