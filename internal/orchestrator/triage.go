package orchestrator

import (
	"context"

	"github.com/aristath/taskpilot/internal/executor"
)

// TriageRequest carries one escalated task to the operator.
type TriageRequest struct {
	TaskID     string
	Reason     string
	responseCh chan TriageResponse
}

// TriageResponse is the operator's resolution.
type TriageResponse struct {
	Action executor.TriageAction
	Error  error
}

// ResolveFunc produces a resolution for an escalated task. It may block on
// operator input for as long as the context allows.
type ResolveFunc func(ctx context.Context, taskID, reason string) (executor.TriageAction, error)

// TriageChannel serializes escalations from parallel workers to a single
// resolver goroutine. Workers block in Ask until resolved or cancelled.
type TriageChannel struct {
	requestCh chan TriageRequest
	resolveFn ResolveFunc
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewTriageChannel creates a triage channel. bufferSize should be at least
// the concurrency limit so workers never block on the send.
func NewTriageChannel(bufferSize int, resolveFn ResolveFunc) *TriageChannel {
	return &TriageChannel{
		requestCh: make(chan TriageRequest, bufferSize),
		resolveFn: resolveFn,
		done:      make(chan struct{}),
	}
}

// Start launches the resolver goroutine. It processes requests until the
// context is cancelled or Stop is called.
func (tc *TriageChannel) Start(ctx context.Context) {
	ctx, tc.cancel = context.WithCancel(ctx)
	go tc.handleRequests(ctx)
}

func (tc *TriageChannel) handleRequests(ctx context.Context) {
	defer close(tc.done)

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-tc.requestCh:
			action, err := tc.resolveFn(ctx, req.TaskID, req.Reason)

			select {
			case <-ctx.Done():
				req.responseCh <- TriageResponse{Error: ctx.Err()}
				return
			default:
				req.responseCh <- TriageResponse{Action: action, Error: err}
			}
		}
	}
}

// Ask submits an escalation and waits for the operator's resolution. It
// satisfies executor.TriageFunc.
func (tc *TriageChannel) Ask(ctx context.Context, taskID, reason string) (executor.TriageAction, error) {
	responseCh := make(chan TriageResponse, 1)

	req := TriageRequest{
		TaskID:     taskID,
		Reason:     reason,
		responseCh: responseCh,
	}

	select {
	case tc.requestCh <- req:
	case <-ctx.Done():
		return executor.TriageAbort, ctx.Err()
	}

	select {
	case resp := <-responseCh:
		if resp.Error != nil {
			return executor.TriageAbort, resp.Error
		}
		return resp.Action, nil
	case <-ctx.Done():
		return executor.TriageAbort, ctx.Err()
	}
}

// Stop shuts down the resolver goroutine and blocks until it has exited.
// Must not be called before Start.
func (tc *TriageChannel) Stop() {
	tc.cancel()
	<-tc.done
}
