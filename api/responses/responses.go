package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// RequestIDHeader is set on the response by the request id middleware before
// any handler runs, so error bodies can echo it.
const RequestIDHeader = "X-Request-Id"

// codes whose message was written for the caller and can be returned as is.
var callerFacingCodes = map[pkgerrors.Code]bool{
	pkgerrors.CodeValidation:       true,
	pkgerrors.CodePriceMismatch:    true,
	pkgerrors.CodeUnauthorized:     true,
	pkgerrors.CodeForbidden:        true,
	pkgerrors.CodeNotFound:         true,
	pkgerrors.CodeMethodNotAllowed: true,
	pkgerrors.CodeConflict:         true,
	pkgerrors.CodeInvalidState:     true,
	pkgerrors.CodeIdempotency:      true,
	pkgerrors.CodeRateLimit:        true,
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, SuccessEnvelope{Data: data})
}

func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteError maps err onto the error envelope. Untyped errors become internal
// errors and never leak their text.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
		err = typed
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	apiErr := APIError{
		Code:      string(typed.Code()),
		Message:   meta.PublicMessage,
		RequestID: w.Header().Get(RequestIDHeader),
	}
	if callerFacingCodes[typed.Code()] && typed.Message() != "" {
		apiErr.Message = typed.Message()
	}
	if meta.DetailsAllowed {
		apiErr.Details = typed.Details()
	}

	logFailure(ctx, logg, meta.HTTPStatus, err, typed)
	writeJSON(w, meta.HTTPStatus, ErrorEnvelope{Error: apiErr})
}

func logFailure(ctx context.Context, logg *logger.Logger, status int, err error, typed *pkgerrors.Error) {
	if logg == nil {
		return
	}

	fields := pkgerrors.Diagnose(err).Fields()
	fields["status"] = status
	if dm, ok := typed.Details().(map[string]any); ok {
		if step, ok := dm["step"]; ok {
			fields["step"] = step
		}
	}
	ctx = logg.WithFields(ctx, fields)

	if status >= http.StatusInternalServerError {
		logg.Error(ctx, "request.error", err)
		return
	}
	logg.Warn(logg.WithField(ctx, "error", err.Error()), "request.rejected")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
