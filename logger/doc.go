// Package logger provides structured logging on top of zerolog.
//
// Loggers are scoped per component and carry queue, job and breaker
// identifiers as structured fields:
//
//	log := logger.NewDefault("taskguard").WithComponent("queue")
//	log.Info("Job completed", logger.JobFields("mail", id, "send"))
package logger
