package handler

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/domain/promotion/rule"
)

// badRequestError wraps a body or query that could not be parsed.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return "invalid request: " + e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return &badRequestError{err: fmt.Errorf(format, args...)}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fromValidator converts tag violations to the domain's ValidationError so
// both kinds of input problems share one response shape.
func fromValidator(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	ve := &promotion.ValidationError{}
	for _, fe := range fieldErrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		ve.Violations = append(ve.Violations, promotion.Violation{Field: field, Message: tagMessage(fe)})
	}
	return ve
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s elements", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	}
	return fmt.Sprintf("failed on %q validation", fe.Tag())
}

// writeError maps err to a status and the JSON error body:
// {"error":{"code":..., "message":..., "violations":[...]}}.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status  int
		code    string
		message = err.Error()
		ve      *promotion.ValidationError
		ire     *rule.InvalidRuleError
		bre     *badRequestError
	)
	switch {
	case errors.As(err, &ve):
		status, code = http.StatusUnprocessableEntity, "validation_failed"
	case errors.As(err, &ire):
		status, code = http.StatusUnprocessableEntity, "invalid_rules"
	case errors.As(err, &bre):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, errMissingTenant):
		status, code = http.StatusBadRequest, "missing_tenant"
	case errors.Is(err, promotion.ErrPromotionNotFound):
		status, code, message = http.StatusNotFound, "promotion_not_found", promotion.ErrPromotionNotFound.Error()
	case errors.Is(err, promotion.ErrCouponNotFound):
		status, code, message = http.StatusNotFound, "coupon_not_found", promotion.ErrCouponNotFound.Error()
	case errors.Is(err, promotion.ErrConflictRuleNotFound):
		status, code, message = http.StatusNotFound, "conflict_rule_not_found", promotion.ErrConflictRuleNotFound.Error()
	case errors.Is(err, promotion.ErrDuplicateCode):
		status, code = http.StatusConflict, "duplicate_code"
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		status, code, message = http.StatusInternalServerError, "internal", "internal server error"
	}

	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("error", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("code", func(e *jx.Encoder) { e.Str(code) })
					e.Field("message", func(e *jx.Encoder) { e.Str(message) })
					if ve != nil {
						e.Field("violations", func(e *jx.Encoder) {
							e.Arr(func(e *jx.Encoder) {
								for _, v := range ve.Violations {
									e.Obj(func(e *jx.Encoder) {
										e.Field("field", func(e *jx.Encoder) { e.Str(v.Field) })
										e.Field("message", func(e *jx.Encoder) { e.Str(v.Message) })
									})
								}
							})
						})
					}
				})
			})
		})
	})
}
