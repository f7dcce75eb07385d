package rpc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/fitsync/internal/errs"
)

// Fixed status messages the client matches on.
const (
	msgBadCredentials  = "bad credentials"
	msgEmailInUse      = "email already in use"
	msgVersionConflict = "version conflict"
	msgInternal        = "internal"
)

// ToStatus converts a service error into a gRPC status error. Errors that already carry a
// status pass through. Anything unrecognised becomes codes.Internal without leaking details.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var fe *errs.FieldError
	switch {
	case errors.As(err, &fe):
		st := status.New(codes.InvalidArgument, fe.Error())
		if withField, derr := st.WithDetails(&errdetails.BadRequest{
			FieldViolations: []*errdetails.BadRequest_FieldViolation{{Field: fe.Field, Description: fe.Msg}},
		}); derr == nil {
			st = withField
		}
		return st.Err()
	case errors.Is(err, errs.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, msgBadCredentials)
	case errors.Is(err, errs.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, "unauthenticated")
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, "permission denied")
	case errors.Is(err, errs.ErrEmailAlreadyInUse):
		return status.Error(codes.AlreadyExists, msgEmailInUse)
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, errs.ErrRequiresReauthentication):
		return status.Error(codes.FailedPrecondition, "requires reauthentication")
	case errors.Is(err, errs.ErrVersionConflict):
		return status.Error(codes.FailedPrecondition, msgVersionConflict)
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, msgInternal)
	}
}

// FromStatus converts a gRPC status error received by the client back into errs sentinels,
// so callers never see transport codes.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := st.Message()
	switch st.Code() {
	case codes.OK:
		return nil
	case codes.InvalidArgument:
		for _, d := range st.Details() {
			if br, ok := d.(*errdetails.BadRequest); ok && len(br.GetFieldViolations()) > 0 {
				v := br.GetFieldViolations()[0]
				return errs.Validation(v.GetField(), v.GetDescription())
			}
		}
		return fmt.Errorf("%w: %s", errs.ErrValidation, msg)
	case codes.Unauthenticated:
		if msg == msgBadCredentials {
			return errs.ErrInvalidCredentials
		}
		return errs.ErrUnauthenticated
	case codes.NotFound:
		return errs.ErrNotFound
	case codes.PermissionDenied:
		return errs.ErrPermissionDenied
	case codes.AlreadyExists:
		if msg == msgEmailInUse {
			return errs.ErrEmailAlreadyInUse
		}
		return errs.ErrAlreadyExists
	case codes.FailedPrecondition:
		if msg == msgVersionConflict {
			return errs.ErrVersionConflict
		}
		return errs.ErrRequiresReauthentication
	case codes.ResourceExhausted:
		return errs.ErrRateLimited
	case codes.Unavailable, codes.Aborted:
		return fmt.Errorf("%w: %s", errs.ErrNetwork, msg)
	case codes.Canceled:
		return errors.Join(errs.ErrNetwork, context.Canceled)
	case codes.DeadlineExceeded:
		return errors.Join(errs.ErrNetwork, context.DeadlineExceeded)
	default:
		return fmt.Errorf("remote: %s: %s", st.Code(), msg)
	}
}
