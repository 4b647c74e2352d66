package app

import (
	"github.com/asaskevich/EventBus"
	"github.com/robfig/cron/v3"

	"github.com/talkincode/wabot/config"
	"github.com/talkincode/wabot/internal/store"
)

// StoreProvider provides repository access
type StoreProvider interface {
	Store() *store.Store
}

// ConfigProvider provides application configuration
type ConfigProvider interface {
	Config() *config.AppConfig
}

// SchedulerProvider provides task scheduling capability
type SchedulerProvider interface {
	Scheduler() *cron.Cron
}

// BusProvider provides the in-process event bus
type BusProvider interface {
	Bus() EventBus.Bus
}

// AppContext combines all provider interfaces for full application context
// Services should depend on specific providers or this combined interface
type AppContext interface {
	StoreProvider
	ConfigProvider
	SchedulerProvider
	BusProvider

	// Application lifecycle methods
	MigrateDB(track bool) error
	InitDb()
}
