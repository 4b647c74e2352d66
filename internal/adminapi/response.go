package adminapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/talkincode/wabot/internal/store"
	"github.com/talkincode/wabot/internal/whatsapp"
)

type Response struct {
	Data interface{} `json:"data"`
	Meta interface{} `json:"meta,omitempty"`
}

type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, Response{Data: data})
}

func created(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusCreated, Response{Data: data})
}

func fail(c echo.Context, status int, code, message string, details interface{}) error {
	return c.JSON(status, ErrorResponse{Error: code, Message: message, Details: details})
}

func parseIDParam(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

func handleValidationError(c echo.Context, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", err.Error())
	}
	fields := make([]string, 0, len(verrs))
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := strings.ToLower(fe.Field())
		fields = append(fields, name)
		details[name] = fe.Tag()
	}
	return fail(c, http.StatusBadRequest, "VALIDATION_ERROR",
		"Invalid or missing fields: "+strings.Join(fields, ", "), details)
}

// botError maps orchestrator and store errors to HTTP responses.
func botError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, whatsapp.ErrBotNotFound), errors.Is(err, store.ErrNotFound):
		return fail(c, http.StatusNotFound, "BOT_NOT_FOUND", "Bot not found", nil)
	case errors.Is(err, whatsapp.ErrAlreadyRunning):
		return fail(c, http.StatusConflict, "BOT_RUNNING", "Bot is already running", nil)
	case errors.Is(err, whatsapp.ErrNotRunning):
		return fail(c, http.StatusConflict, "BOT_NOT_RUNNING", "Bot is not running", nil)
	case errors.Is(err, whatsapp.ErrNotConnected):
		return fail(c, http.StatusBadRequest, "BOT_NOT_CONNECTED", "Bot is not connected", nil)
	case errors.Is(err, whatsapp.ErrInvalidNumber):
		return fail(c, http.StatusBadRequest, "INVALID_NUMBER", "Invalid phone number", err.Error())
	case errors.Is(err, whatsapp.ErrMediaFetch):
		return fail(c, http.StatusBadRequest, "MEDIA_FETCH_FAILED", "Failed to fetch media", err.Error())
	case errors.Is(err, whatsapp.ErrMediaTooLarge):
		return fail(c, http.StatusRequestEntityTooLarge, "MEDIA_TOO_LARGE", "Media exceeds the size limit", nil)
	case errors.Is(err, whatsapp.ErrFileNotFound):
		return fail(c, http.StatusNotFound, "FILE_NOT_FOUND", "File not found", err.Error())
	case errors.Is(err, whatsapp.ErrNoMedia):
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "file_path or file_url is required", nil)
	}
	zap.L().Error("adminapi: request failed", zap.String("path", c.Path()), zap.Error(err))
	return fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", err.Error())
}
