// Package component defines lifecycle-managed parts of the service and a
// registry that starts them in order and stops them in reverse.
//
//	reg := component.NewRegistry(log)
//	_ = reg.Register(redisComponent)
//	_ = reg.Register(queueComponent)
//	if err := reg.StartAll(ctx); err != nil { ... }
//	defer reg.StopAll(context.Background())
package component
