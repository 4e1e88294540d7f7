package stage

import (
	"context"

	"callpipe/internal/queue"
)

// Handler describes the contract the workflow manager needs from each lane.
//
// Process receives a call the manager has already claimed. It returns the
// completion to record on success; any error is classified by the manager
// into a retry, a dead letter, or a penalty-free release.
type Handler interface {
	Spec() queue.LaneSpec
	Process(context.Context, *queue.Call) (queue.Completion, error)
	HealthCheck(context.Context) Health
}
