// Package safeguard provides a high-level library API for the change
// safety pipeline.
//
// This package is the primary integration point for agent orchestrators
// that embed validation, audit, and rollback monitoring in-process instead
// of talking to safeguardd over HTTP. It wraps internal packages into a
// clean, stable public API.
//
// # Concurrency Safety
//
//   - A Client is safe for concurrent use. Process, Validate, and the
//     audit accessors may be called from any goroutine.
//
//   - Incident callbacks registered with OnIncident run on monitoring
//     session goroutines and must not block.
//
//   - Multiple Client instances for DIFFERENT audit directories are fully
//     independent. Two processes may append to the SAME directory (appends
//     are file-locked), but each maintains its own index view; prefer one
//     writer per directory.
//
// # Recommended Usage Pattern (orchestrator)
//
//	client, err := safeguard.Open(ctx, safeguard.Options{
//	    AuditDir:   "/var/lib/safeguard/audit",
//	    SigningKey: key,
//	    Redis:      &safeguard.RedisOptions{Addr: "localhost:6379"},
//	})
//	defer client.Close()
//
//	// Agent proposed a change set: validate, record, and watch.
//	res, err := client.Process(ctx, changes, agent, safeguard.ProcessOptions{
//	    Version: "v1.2.0",
//	})
//	if err != nil {
//	    return err
//	}
//	if !res.Accepted {
//	    return rework(res.Validation)
//	}
//
//	// Block the release gate on the monitoring outcome.
//	final, err := client.WaitSession(ctx, res.DeploymentID)
//	if err == nil && final.Status == model.SessionCompleted {
//	    promote(res.DeploymentID)
//	}
package safeguard
