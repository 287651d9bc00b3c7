package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/robustmq/robustmq-sub002/internal/brokercall"
)

// toStatus maps an internal error kind to the grpc status spec §7 calls
// for: "Inter-node RPC errors map transient->retry, all others->internal".
// Transient conditions (context deadline/cancel, the retryable node-thread
// race brokercall surfaces) map to codes a client's retry policy treats as
// safe to retry; everything else collapses to Internal so a caller never
// branches on meta-service-internal sentinel values over the wire.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, brokercall.ErrRetryableNodeThreadRace):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
