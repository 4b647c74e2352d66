package app

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/internal/store"
	"github.com/talkincode/wabot/pkg/common"
)

// ensureAdminUser creates the bootstrap account from web.admin_* when it
// does not exist yet. Nothing happens when no password is configured.
func (a *Application) ensureAdminUser(ctx context.Context) {
	web := a.appConfig.Web
	if web.AdminUser == "" || web.AdminPassword == "" {
		return
	}

	_, err := a.st.Users.GetByUsername(ctx, web.AdminUser)
	switch {
	case err == nil:
		return
	case !errors.Is(err, store.ErrNotFound):
		zap.L().Error("failed to query admin user", zap.Error(err))
		return
	}

	hash, err := common.HashPassword(web.AdminPassword)
	if err != nil {
		zap.L().Error("failed to hash admin password", zap.Error(err))
		return
	}
	email := common.EmptyOr(web.AdminEmail, web.AdminUser+"@localhost")
	err = a.st.Users.Create(ctx, &domain.User{Username: web.AdminUser, Email: email, Password: hash})
	if err != nil {
		zap.L().Error("failed to create admin user", zap.Error(err))
		return
	}
	zap.L().Info("initialized admin account", zap.String("username", web.AdminUser))
}
