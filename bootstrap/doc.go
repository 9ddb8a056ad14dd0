// Package bootstrap runs a taskguard service: validated config, logger,
// component registry, lifecycle hooks and graceful shutdown.
//
//	app, err := bootstrap.NewApp(&cfg)
//	app.RegisterComponent(redisComponent)
//	app.RegisterComponent(queue.NewComponent(queues))
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//	err = app.Run(ctx)
package bootstrap
