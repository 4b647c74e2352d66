package adminapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/talkincode/wabot/internal/webserver"
)

type sendPayload struct {
	Number   string `json:"number" validate:"required"`
	Message  string `json:"message" validate:"required_without=MediaURL,max=4096"`
	MediaURL string `json:"media_url" validate:"omitempty,url"`
}

type sendFilePayload struct {
	Number   string `json:"number" validate:"required"`
	Caption  string `json:"caption" validate:"max=1024"`
	FilePath string `json:"file_path"`
	FileURL  string `json:"file_url" validate:"omitempty,url"`
}

type sendBulkPayload struct {
	Numbers  []string `json:"numbers" validate:"required,min=1,max=1000,dive,required"`
	Message  string   `json:"message" validate:"required_without=MediaURL,max=4096"`
	MediaURL string   `json:"media_url" validate:"omitempty,url"`
}

func registerSendRoutes() {
	webserver.ApiPOST("/bots/:id/send", sendMessage)
	webserver.ApiPOST("/bots/:id/send-file", sendFile)
	webserver.ApiPOST("/bots/:id/send-bulk", sendBulk)
}

func sendMessage(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid bot ID", nil)
	}
	var payload sendPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	msg, err := manager.SendText(c.Request().Context(), webserver.CurrentUserID(c), id,
		payload.Number, payload.Message, strings.TrimSpace(payload.MediaURL))
	if err != nil {
		return botError(c, err)
	}
	return ok(c, map[string]interface{}{"success": true, "message": msg})
}

func sendFile(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid bot ID", nil)
	}
	var payload sendFilePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	msg, err := manager.SendFile(c.Request().Context(), webserver.CurrentUserID(c), id,
		payload.Number, payload.Caption, strings.TrimSpace(payload.FilePath), strings.TrimSpace(payload.FileURL))
	if err != nil {
		return botError(c, err)
	}
	return ok(c, map[string]interface{}{"success": true, "message": msg})
}

func sendBulk(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid bot ID", nil)
	}
	var payload sendBulkPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	result, err := manager.SendBulk(c.Request().Context(), webserver.CurrentUserID(c), id,
		payload.Numbers, payload.Message, strings.TrimSpace(payload.MediaURL))
	if err != nil {
		return botError(c, err)
	}
	return ok(c, result)
}
