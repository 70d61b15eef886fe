package server

import (
	"SaleLedger/internal/core"
	"SaleLedger/internal/ingestion"
	"SaleLedger/internal/query"
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errMissingIdentity = errors.New("missing " + ingestion.IdentityHeader)

// toStatus maps domain errors onto gRPC status codes. The HTTP gateway
// derives its status from the code.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, errMissingIdentity):
		return codes.Unauthenticated
	case errors.Is(err, ingestion.ErrInvalidCommand),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidIdentity):
		return codes.InvalidArgument
	case errors.Is(err, core.ErrUnauthorized):
		return codes.PermissionDenied
	case errors.Is(err, core.ErrCapacityExceeded):
		return codes.ResourceExhausted
	case errors.Is(err, core.ErrDuplicateEvent):
		return codes.AlreadyExists
	case errors.Is(err, core.ErrOutsideSaleWindow),
		errors.Is(err, core.ErrBelowMinimum),
		errors.Is(err, core.ErrNothingToClaim),
		errors.Is(err, core.ErrFullyClaimed),
		errors.Is(err, core.ErrStillLocked),
		errors.Is(err, core.ErrSaleNotEnded),
		errors.Is(err, core.ErrInsufficientBalance),
		errors.Is(err, core.ErrClockRegression):
		return codes.FailedPrecondition
	case errors.Is(err, query.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, ingestion.ErrSequencerStopped):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	return codes.Internal
}
