package workflow

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"callpipe/internal/logging"
	"callpipe/internal/queue"
	"callpipe/internal/services"
)

func withCallContext(ctx context.Context, lane *laneState, call *queue.Call) context.Context {
	ctx = services.WithCallID(ctx, call.ID)
	ctx = services.WithStage(ctx, string(lane.spec.InProgress))
	ctx = services.WithLane(ctx, lane.name)
	return services.WithRequestID(ctx, uuid.NewString())
}

func callLogger(ctx context.Context, lane *laneState, call *queue.Call) *slog.Logger {
	return logging.WithContext(ctx, lane.logger).With(
		logging.String("external_id", call.ExternalID),
		logging.Int("attempt", call.AttemptCount+1),
	)
}
