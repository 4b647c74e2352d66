package adminapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/internal/webserver"
	"github.com/talkincode/wabot/internal/whatsapp"
)

type botPayload struct {
	Name           string      `json:"name" validate:"required,min=1,max=100"`
	Description    string      `json:"description" validate:"omitempty,max=500"`
	WelcomeMessage string      `json:"welcome_message" validate:"omitempty,max=2000"`
	AutoReplies    interface{} `json:"auto_replies"`
	WebhookURL     string      `json:"webhook_url" validate:"omitempty,url"`
	AutoStart      *bool       `json:"auto_start"`
}

type botUpdatePayload struct {
	Name           *string     `json:"name" validate:"omitempty,min=1,max=100"`
	Description    *string     `json:"description" validate:"omitempty,max=500"`
	WelcomeMessage *string     `json:"welcome_message" validate:"omitempty,max=2000"`
	AutoReplies    interface{} `json:"auto_replies"`
	WebhookURL     *string     `json:"webhook_url" validate:"omitempty,url,max=2048"`
	AutoStart      *bool       `json:"auto_start"`
}

type autoRepliesPayload struct {
	AutoReplies interface{} `json:"auto_replies"`
}

// autoReplyEntry is the list form. A missing is_active means active.
type autoReplyEntry struct {
	Trigger  string `mapstructure:"trigger"`
	Response string `mapstructure:"response"`
	IsActive *bool  `mapstructure:"is_active"`
}

func registerBotRoutes() {
	webserver.ApiGET("/bots", listBots)
	webserver.ApiPOST("/bots", createBot)
	webserver.ApiGET("/bots/:id", getBot)
	webserver.ApiPUT("/bots/:id", updateBot)
	webserver.ApiDELETE("/bots/:id", deleteBot)
	webserver.ApiPUT("/bots/:id/auto-replies", updateAutoReplies)
	webserver.ApiPOST("/bots/:id/start", startBot)
	webserver.ApiPOST("/bots/:id/stop", stopBot)
	webserver.ApiGET("/bots/:id/qr", getBotQR)
	webserver.ApiGET("/bots/:id/status", getBotStatus)
}

// parseAutoReplies accepts either [{trigger,response,is_active}] or
// {trigger: response}. A nil value returns nil without error.
func parseAutoReplies(raw interface{}) (map[string]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		var entries []autoReplyEntry
		if err := mapstructure.Decode(v, &entries); err != nil {
			return nil, err
		}
		list := make([]domain.AutoReply, 0, len(entries))
		for _, e := range entries {
			list = append(list, domain.AutoReply{
				Trigger:  e.Trigger,
				Response: e.Response,
				IsActive: e.IsActive == nil || *e.IsActive,
			})
		}
		return whatsapp.RepliesFromList(list), nil
	case map[string]interface{}:
		replies := make(map[string]string, len(v))
		for trigger, response := range v {
			s, ok := response.(string)
			if !ok {
				return nil, fmt.Errorf("response of trigger %q must be a string", trigger)
			}
			replies[trigger] = s
		}
		return whatsapp.NormalizeReplies(replies), nil
	}
	return nil, errors.New("auto_replies must be a list or an object")
}

func ownedBotFromParam(c echo.Context) (*domain.Bot, error) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return nil, fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid bot ID", nil)
	}
	bot, err := GetStore().Bots.GetOwned(c.Request().Context(), id, webserver.CurrentUserID(c))
	if err != nil {
		return nil, botError(c, err)
	}
	return bot, nil
}

func listBots(c echo.Context) error {
	bots, err := GetStore().Bots.ListByOwner(c.Request().Context(), webserver.CurrentUserID(c))
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query bots", err.Error())
	}
	return ok(c, bots)
}

func createBot(c echo.Context) error {
	var payload botPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse bot parameters", err.Error())
	}
	payload.Name = strings.TrimSpace(payload.Name)
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}
	replies, err := parseAutoReplies(payload.AutoReplies)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_AUTO_REPLIES", "Invalid auto replies", err.Error())
	}

	bot := &domain.Bot{
		OwnerID:        webserver.CurrentUserID(c),
		Name:           payload.Name,
		Description:    payload.Description,
		WelcomeMessage: payload.WelcomeMessage,
		AutoReplies:    replies,
		WebhookURL:     payload.WebhookURL,
		AutoStart:      payload.AutoStart == nil || *payload.AutoStart,
	}
	if err := GetStore().Bots.Create(c.Request().Context(), bot); err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to create bot", err.Error())
	}
	zap.L().Info("adminapi: bot created", zap.Int64("bot_id", bot.ID), zap.Int64("owner_id", bot.OwnerID))
	return created(c, bot)
}

func getBot(c echo.Context) error {
	bot, err := ownedBotFromParam(c)
	if bot == nil {
		return err
	}
	return ok(c, bot)
}

func updateBot(c echo.Context) error {
	bot, err := ownedBotFromParam(c)
	if bot == nil {
		return err
	}
	var payload botUpdatePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse bot parameters", err.Error())
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}
	replies, err := parseAutoReplies(payload.AutoReplies)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_AUTO_REPLIES", "Invalid auto replies", err.Error())
	}

	if payload.Name != nil {
		name := strings.TrimSpace(*payload.Name)
		if name == "" {
			return fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid or missing fields: name", nil)
		}
		bot.Name = name
	}
	if payload.Description != nil {
		bot.Description = *payload.Description
	}
	if payload.WelcomeMessage != nil {
		bot.WelcomeMessage = *payload.WelcomeMessage
	}
	if payload.WebhookURL != nil {
		bot.WebhookURL = strings.TrimSpace(*payload.WebhookURL)
	}
	if payload.AutoStart != nil {
		bot.AutoStart = *payload.AutoStart
	}
	if replies != nil {
		bot.AutoReplies = replies
	}

	if err := GetStore().Bots.Update(c.Request().Context(), bot); err != nil {
		return botError(c, err)
	}
	if replies != nil {
		manager.UpdateAutoReplies(bot.ID, replies)
	}
	return ok(c, bot)
}

func deleteBot(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid bot ID", nil)
	}
	if err := manager.Delete(c.Request().Context(), webserver.CurrentUserID(c), id); err != nil {
		return botError(c, err)
	}
	return ok(c, map[string]interface{}{"id": fmt.Sprint(id)})
}

func updateAutoReplies(c echo.Context) error {
	bot, err := ownedBotFromParam(c)
	if bot == nil {
		return err
	}
	var payload autoRepliesPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.AutoReplies == nil {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "auto_replies is required", nil)
	}
	replies, err := parseAutoReplies(payload.AutoReplies)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_AUTO_REPLIES", "Invalid auto replies", err.Error())
	}

	bot.AutoReplies = replies
	if err := GetStore().Bots.Update(c.Request().Context(), bot); err != nil {
		return botError(c, err)
	}
	manager.UpdateAutoReplies(bot.ID, replies)
	return ok(c, map[string]interface{}{"auto_replies": replies})
}

func startBot(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid bot ID", nil)
	}
	if err := manager.Start(c.Request().Context(), webserver.CurrentUserID(c), id); err != nil {
		return botError(c, err)
	}
	return ok(c, map[string]interface{}{"bot_id": fmt.Sprint(id), "status": domain.BotStatusConnecting})
}

func stopBot(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid bot ID", nil)
	}
	if err := manager.Stop(c.Request().Context(), webserver.CurrentUserID(c), id); err != nil {
		return botError(c, err)
	}
	return ok(c, map[string]interface{}{"bot_id": fmt.Sprint(id), "status": domain.BotStatusDisconnected})
}

func getBotQR(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid bot ID", nil)
	}
	state, err := manager.QR(c.Request().Context(), webserver.CurrentUserID(c), id)
	if err != nil {
		return botError(c, err)
	}
	return ok(c, state)
}

func getBotStatus(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid bot ID", nil)
	}
	state, err := manager.Status(c.Request().Context(), webserver.CurrentUserID(c), id)
	if err != nil {
		return botError(c, err)
	}
	return ok(c, state)
}
