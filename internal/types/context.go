package types

import (
	"context"
)

// ContextKey is a type for the keys of values stored in the context
type ContextKey string

const (
	CtxRequestID ContextKey = "ctx_request_id"
	CtxRunID     ContextKey = "ctx_run_id"
	CtxTrigger   ContextKey = "ctx_trigger"
	CtxCaller    ContextKey = "ctx_caller"
)

func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(CtxRequestID).(string); ok {
		return requestID
	}
	return ""
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, CtxRequestID, requestID)
}

// GetRunID returns the id of the processing run the context belongs to
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(CtxRunID).(string); ok {
		return runID
	}
	return ""
}

func SetRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, CtxRunID, runID)
}

func GetTrigger(ctx context.Context) RunTrigger {
	if trigger, ok := ctx.Value(CtxTrigger).(RunTrigger); ok {
		return trigger
	}
	return ""
}

func SetTrigger(ctx context.Context, trigger RunTrigger) context.Context {
	return context.WithValue(ctx, CtxTrigger, trigger)
}

// GetCaller returns the name of the api key holder that made the request
func GetCaller(ctx context.Context) string {
	if caller, ok := ctx.Value(CtxCaller).(string); ok {
		return caller
	}
	return ""
}

func SetCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, CtxCaller, caller)
}
