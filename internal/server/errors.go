package server

import (
	"CDPLedger/internal/ledger"
	"context"
	"errors"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const errorDomain = "cdpledger"

// grpcCode maps a ledger error category onto the closest gRPC code. The
// gateway turns that into the HTTP status.
func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}

	switch ledger.Category(err) {
	case "unauthorized":
		return codes.PermissionDenied
	case "validation":
		return codes.InvalidArgument
	case "arithmetic":
		return codes.OutOfRange
	case "insufficient_capacity", "insufficient_collateral", "not_instantiated":
		return codes.FailedPrecondition
	case "unregistered_collateral":
		return codes.NotFound
	case "already_instantiated":
		return codes.AlreadyExists
	case "deprecated":
		return codes.Unimplemented
	default:
		return codes.Internal
	}
}

// toStatus converts err into a status error carrying the category as an
// ErrorInfo reason, e.g. INSUFFICIENT_CAPACITY. Internal errors are not
// echoed to the caller.
func toStatus(err error) error {
	code := grpcCode(err)
	msg := err.Error()
	if code == codes.Internal {
		msg = "internal error"
	}

	st := status.New(code, msg)
	detailed, derr := st.WithDetails(&errdetails.ErrorInfo{
		Reason: strings.ToUpper(ledger.Category(err)),
		Domain: errorDomain,
	})
	if derr != nil {
		return st.Err()
	}
	return detailed.Err()
}
