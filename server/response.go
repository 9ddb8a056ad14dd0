package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kbukum/taskguard/errors"
	"github.com/kbukum/taskguard/resilience"
)

// DataResponse is the standard success envelope.
type DataResponse struct {
	Data any   `json:"data"`
	Meta *Meta `json:"meta,omitempty"`
}

// Meta carries paging information for list responses.
type Meta struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
	Count int   `json:"count"`
}

// RespondWithError renders err as the standard error body. Resilience
// rejections become retryable 503/504 errors; anything that is not an
// AppError becomes a 500.
func RespondWithError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		err = apperrors.New(apperrors.ErrCodeInvalidInput, "Request body is too large.", http.StatusRequestEntityTooLarge).
			WithDetail("limit", tooLarge.Limit)
	}
	appErr := apperrors.Wrap(resilience.WrapError(err))
	_ = c.Error(err)
	c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.ToResponse())
}

// RespondOK sends a 200 response wrapping data.
func RespondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, DataResponse{Data: data})
}

// RespondOKWithMeta sends a 200 response with data and paging metadata.
func RespondOKWithMeta(c *gin.Context, data any, meta *Meta) {
	c.JSON(http.StatusOK, DataResponse{Data: data, Meta: meta})
}

// RespondCreated sends a 201 response wrapping data.
func RespondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, DataResponse{Data: data})
}

// RespondNoContent sends a 204 with no body.
func RespondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func errRouteNotFound(c *gin.Context) error {
	return apperrors.NotFound("route", c.Request.Method+" "+c.Request.URL.Path)
}

func errMethodNotAllowed(c *gin.Context) error {
	return apperrors.New(apperrors.ErrCodeInvalidInput, "Method not allowed.", http.StatusMethodNotAllowed).
		WithDetail("method", c.Request.Method)
}
