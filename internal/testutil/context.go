package testutil

import (
	"context"

	"github.com/flexprice/dealpay/internal/types"
)

func SetupContext() context.Context {
	ctx := context.Background()
	ctx = types.SetRequestID(ctx, types.GenerateUUID())
	ctx = types.SetRunID(ctx, types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RUN))
	ctx = types.SetTrigger(ctx, types.RunTriggerManual)
	return ctx
}
