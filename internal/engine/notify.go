package engine

import "log/slog"

// LogNotifier routes sync outcomes to structured logs. The daemon uses it;
// an interactive frontend would supply its own Notifier.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Log != nil {
		return n.Log
	}
	return slog.Default()
}

func (n LogNotifier) SyncSucceeded(count int) {
	n.logger().Info("sync complete", "records", count)
}

func (n LogNotifier) ManualRetryRequired(lastError string) {
	n.logger().Error("sync failed; manual retry required", "err", lastError)
}

func (n LogNotifier) RecordRejected(recordID, reason string) {
	n.logger().Error("record rejected by backend", "record", recordID, "reason", reason)
}

func (n LogNotifier) StorageFull() {
	n.logger().Error("local storage full; clear caches to continue saving")
}
