package adminapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/internal/store"
	"github.com/talkincode/wabot/internal/webserver"
	"github.com/talkincode/wabot/pkg/common"
)

type registerPayload struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

type loginPayload struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type authResult struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

func registerAuthRoutes() {
	webserver.ApiPOST("/auth/register", register)
	webserver.ApiPOST("/auth/login", login)
	webserver.ApiGET("/me", currentUser)
}

func issueToken(u *domain.User) (string, error) {
	web := appCtx.Config().Web
	return webserver.NewToken(web.JwtSecret, u.ID, u.Username, time.Duration(web.JwtTTLHours)*time.Hour)
}

func register(c echo.Context) error {
	var payload registerPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	payload.Username = strings.TrimSpace(payload.Username)
	payload.Email = strings.ToLower(strings.TrimSpace(payload.Email))
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	ctx := c.Request().Context()
	exists, err := GetStore().Users.ExistsByUsernameOrEmail(ctx, payload.Username, payload.Email)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query users", err.Error())
	}
	if exists {
		return fail(c, http.StatusConflict, "USER_EXISTS", "User already exists", nil)
	}

	hash, err := common.HashPassword(payload.Password)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to hash password", nil)
	}
	user := &domain.User{Username: payload.Username, Email: payload.Email, Password: hash}
	if err := GetStore().Users.Create(ctx, user); errors.Is(err, store.ErrDuplicate) {
		return fail(c, http.StatusConflict, "USER_EXISTS", "User already exists", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to create user", err.Error())
	}

	token, err := issueToken(user)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue token", nil)
	}
	zap.L().Info("adminapi: user registered", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	return created(c, authResult{Token: token, User: user})
}

func login(c echo.Context) error {
	var payload loginPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	user, err := GetStore().Users.GetByUsername(c.Request().Context(), strings.TrimSpace(payload.Username))
	if errors.Is(err, store.ErrNotFound) {
		return fail(c, http.StatusBadRequest, "INVALID_CREDENTIALS", "Invalid credentials", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query user", err.Error())
	}
	if !common.CheckPassword(user.Password, payload.Password) {
		return fail(c, http.StatusBadRequest, "INVALID_CREDENTIALS", "Invalid credentials", nil)
	}

	token, err := issueToken(user)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue token", nil)
	}
	return ok(c, authResult{Token: token, User: user})
}

func currentUser(c echo.Context) error {
	user, err := GetStore().Users.GetByID(c.Request().Context(), webserver.CurrentUserID(c))
	if errors.Is(err, store.ErrNotFound) {
		return fail(c, http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query user", err.Error())
	}
	return ok(c, user)
}
