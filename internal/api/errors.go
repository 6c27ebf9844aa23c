package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/report-variables-server/internal/domain"
	"github.com/report-variables-server/internal/middleware"
)

func respondError(c *gin.Context, err error) {
	apiErr := domain.APIErrorFrom(err, c.GetString(middleware.CorrelationIDKey))
	_ = c.Error(err)
	c.AbortWithStatusJSON(apiErr.Code.HTTPStatus(), apiErr)
}

// bindingError converts a gin binding failure into a ValidationError naming
// the first offending field.
func bindingError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return domain.NewValidationError(fe.Field(), "failed on the '"+fe.Tag()+"' rule", fe.Value())
	}
	return domain.NewValidationError("body", err.Error(), nil)
}
