// Package scheduler turns schedule strings (cron, interval) into tasks on the
// worker pool. It owns trigger times only; execution happens in
// internal/task/engine.
package scheduler
