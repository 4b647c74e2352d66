package adminapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gocarina/gocsv"
	"github.com/labstack/echo/v4"

	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/internal/webserver"
	"github.com/talkincode/wabot/internal/whatsapp"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	maxExportRows   = 10000
)

func registerMessageRoutes() {
	webserver.ApiGET("/bots/:id/messages", listMessages)
	webserver.ApiGET("/bots/:id/messages/export", exportMessages)
}

// parseMessageFilter reads limit, offset, before and contact. before takes
// any format dateparse understands, including unix timestamps.
func parseMessageFilter(c echo.Context, botID int64) (domain.MessageFilter, error) {
	f := domain.MessageFilter{BotID: botID, Limit: defaultPageSize}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		if n > maxPageSize {
			n = maxPageSize
		}
		f.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid offset %q", v)
		}
		f.Offset = n
	}
	if v := strings.TrimSpace(c.QueryParam("before")); v != "" {
		t, err := dateparse.ParseAny(v)
		if err != nil {
			return f, fmt.Errorf("invalid before %q", v)
		}
		f.Before = &t
	}
	if v := strings.TrimSpace(c.QueryParam("contact")); v != "" {
		f.Contact = contactNumber(v)
	}
	return f, nil
}

// contactNumber brings a contact to the stored digit form.
func contactNumber(v string) string {
	if n, err := whatsapp.FormatPhoneNumber(v, appCtx.Config().WhatsApp.DefaultCountryCode); err == nil {
		return n
	}
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, v)
}

func listMessages(c echo.Context) error {
	bot, err := ownedBotFromParam(c)
	if bot == nil {
		return err
	}
	filter, err := parseMessageFilter(c, bot.ID)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
	}
	msgs, total, err := GetStore().Messages.List(c.Request().Context(), filter)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query messages", err.Error())
	}
	return ok(c, map[string]interface{}{
		"messages": msgs,
		"total":    total,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

func exportMessages(c echo.Context) error {
	bot, err := ownedBotFromParam(c)
	if bot == nil {
		return err
	}
	filter, err := parseMessageFilter(c, bot.ID)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
	}
	filter.Limit, filter.Offset = maxExportRows, 0
	msgs, _, err := GetStore().Messages.List(c.Request().Context(), filter)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query messages", err.Error())
	}
	data, err := gocsv.MarshalBytes(&msgs)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "EXPORT_FAILED", "Failed to export messages", err.Error())
	}
	name := fmt.Sprintf("messages-%d-%s.csv", bot.ID, time.Now().Format("20060102150405"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", data)
}
