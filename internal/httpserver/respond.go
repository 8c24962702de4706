package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/akkaui/payments/internal/catalog"
	apierrors "github.com/akkaui/payments/internal/errors"
	"github.com/akkaui/payments/internal/gateway"
	"github.com/akkaui/payments/internal/logger"
	"github.com/akkaui/payments/internal/payments"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names, not Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

// decodeAndValidate reads a JSON body into dest and runs its validate tags.
// It writes the 400 response itself and reports false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dest any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		msg := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, msg, "reason", err.Error())
		return false
	}
	if err := validate.Struct(dest); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	first := verrs[0]
	// Namespace is "createIntentBody.items[0].id"; drop the struct name.
	field := first.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	code := apierrors.ErrCodeInvalidField
	msg := fmt.Sprintf("%s failed %s", field, first.Tag())
	if first.Tag() == "required" {
		code = apierrors.ErrCodeMissingField
		msg = field + " is required"
	}
	apierrors.WriteErrorWithDetail(w, code, msg, "field", field)
}

// writeServiceError maps domain errors to API error codes. Unknown errors are
// logged and reported as internal without leaking the cause.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, details map[string]interface{}) {
	var (
		gwErr   *gateway.Error
		itemErr *catalog.ItemError
	)
	if details == nil {
		details = map[string]interface{}{}
	}
	if errors.As(err, &itemErr) {
		details["itemKind"] = string(itemErr.Kind)
		details["itemId"] = itemErr.ID
	}

	var code apierrors.ErrorCode
	msg := err.Error()
	switch {
	case errors.Is(err, payments.ErrIntentNotFound):
		code, msg = apierrors.ErrCodeNotFound, "payment intent not found"
	case errors.Is(err, payments.ErrMissingUser):
		code = apierrors.ErrCodeMissingField
	case errors.Is(err, payments.ErrSimulationDisabled):
		code = apierrors.ErrCodeSimulationDisabled
	case errors.Is(err, catalog.ErrNotForSale):
		code = apierrors.ErrCodeNotForSale
	case errors.Is(err, catalog.ErrCurrencyMismatch):
		code = apierrors.ErrCodeCurrencyMismatch
	case errors.Is(err, catalog.ErrUnsupportedCurrency):
		code = apierrors.ErrCodeUnsupportedCurrency
	case errors.Is(err, catalog.ErrInvalidItem):
		code = apierrors.ErrCodeInvalidItem
	case errors.Is(err, gateway.ErrUnsupportedProvider):
		code = apierrors.ErrCodeUnsupportedProvider
	case errors.As(err, &gwErr):
		details["provider"] = string(gwErr.Provider)
		if gwErr.Kind == gateway.KindUnreachable {
			code, msg = apierrors.ErrCodeGatewayUnreachable, "payment provider unavailable, try again"
		} else {
			code, msg = apierrors.ErrCodeGatewayRejected, "payment provider rejected the request"
		}
	default:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("http.internal_error")
		code, msg = apierrors.ErrCodeInternalError, "internal error"
	}
	if len(details) == 0 {
		details = nil
	}
	apierrors.WriteError(w, code, msg, details)
}
