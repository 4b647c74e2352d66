// Package adminapi implements the dashboard REST API on top of the shared
// webserver.
package adminapi

import (
	"github.com/talkincode/wabot/internal/app"
	"github.com/talkincode/wabot/internal/store"
	"github.com/talkincode/wabot/internal/whatsapp"
)

var (
	appCtx  app.AppContext
	manager *whatsapp.Manager
)

// Init registers every route. webserver.Init must have been called.
func Init(a app.AppContext, m *whatsapp.Manager) {
	appCtx = a
	manager = m

	registerAuthRoutes()
	registerBotRoutes()
	registerMessageRoutes()
	registerSendRoutes()
	registerSystemRoutes()
}

func GetStore() *store.Store {
	return appCtx.Store()
}
