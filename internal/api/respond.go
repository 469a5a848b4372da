package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"equipment-custody-backend/internal/lifecycle"
)

// Machine-readable error codes.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeConflict   = "CONFLICT"
	CodeNotFound   = "NOT_FOUND"
	CodeInternal   = "INTERNAL_ERROR"
)

const internalMessage = "the operation could not be completed, please try again"

func errorBody(message, code string) gin.H {
	return gin.H{"error": message, "code": code}
}

func respondData(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"data": data})
}

// respondError maps lifecycle errors onto status codes. Anything unknown is
// logged and answered with a generic message.
func (h *Handler) respondError(c *gin.Context, err error) {
	var (
		verr *lifecycle.ValidationError
		cerr *lifecycle.ConflictError
		nerr *lifecycle.NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody(verr.Message, CodeValidation))
	case errors.As(err, &cerr):
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody(cerr.Message, CodeConflict))
	case errors.As(err, &nerr):
		c.AbortWithStatusJSON(http.StatusNotFound, errorBody(nerr.Error(), CodeNotFound))
	default:
		_ = c.Error(err)
		h.log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody(internalMessage, CodeInternal))
	}
}

// respondBindError answers a request whose body did not bind.
func respondBindError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody(bindMessage(err), CodeValidation))
}

func bindMessage(err error) string {
	var (
		verrs     validator.ValidationErrors
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &verrs):
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fieldMessage(fe))
		}
		return strings.Join(msgs, "; ")
	case errors.Is(err, io.EOF):
		return "request body is required"
	case errors.As(err, &syntaxErr):
		return "request body is not valid JSON"
	case errors.As(err, &typeErr):
		return fmt.Sprintf("%s has the wrong type", typeErr.Field)
	default:
		return "invalid request"
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s needs at least %s item(s)", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s exceeds %s characters", fe.Field(), fe.Param())
	case "equipreason":
		return fmt.Sprintf("%s must be one of Temporary, Maintenance, Rental, Exchange", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
