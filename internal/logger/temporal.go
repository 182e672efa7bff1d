package logger

import (
	"go.temporal.io/sdk/log"
)

// sdkFields renames the fields the Temporal SDK logs with to the names the
// rest of the service uses, so a deal cleanup can be followed across both
var sdkFields = map[string]string{
	"Namespace":    "temporal_namespace",
	"TaskQueue":    "task_queue",
	"WorkflowType": "workflow_type",
	"WorkflowID":   "workflow_id",
	"RunID":        "workflow_run_id",
	"ActivityType": "activity_type",
	"ActivityID":   "activity_id",
	"Attempt":      "attempt",
	"Error":        "error",
}

// workflowLogger routes Temporal SDK logs through the service logger
type workflowLogger struct {
	logger *Logger
}

var (
	_ log.Logger     = (*workflowLogger)(nil)
	_ log.WithLogger = (*workflowLogger)(nil)
)

// GetTemporalLogger returns the logger handed to the Temporal client
func (l *Logger) GetTemporalLogger() log.Logger {
	return &workflowLogger{logger: l.With("component", "temporal")}
}

func (w *workflowLogger) Debug(msg string, keyvals ...interface{}) {
	w.logger.Debugw(msg, renameSDKFields(keyvals)...)
}

func (w *workflowLogger) Info(msg string, keyvals ...interface{}) {
	w.logger.Infow(msg, renameSDKFields(keyvals)...)
}

func (w *workflowLogger) Warn(msg string, keyvals ...interface{}) {
	w.logger.Warnw(msg, renameSDKFields(keyvals)...)
}

func (w *workflowLogger) Error(msg string, keyvals ...interface{}) {
	w.logger.Errorw(msg, renameSDKFields(keyvals)...)
}

func (w *workflowLogger) With(keyvals ...interface{}) log.Logger {
	return &workflowLogger{logger: w.logger.With(renameSDKFields(keyvals)...)}
}

func renameSDKFields(keyvals []interface{}) []interface{} {
	out := make([]interface{}, len(keyvals))
	copy(out, keyvals)
	for i := 0; i+1 < len(out); i += 2 {
		key, ok := out[i].(string)
		if !ok {
			continue
		}
		if renamed, ok := sdkFields[key]; ok {
			out[i] = renamed
		}
	}
	return out
}
