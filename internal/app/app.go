package app

import (
	"context"
	"os"
	"runtime/debug"
	"time"
	_ "time/tzdata"

	"github.com/asaskevich/EventBus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/talkincode/wabot/config"
	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/internal/store"
	"github.com/talkincode/wabot/pkg/metrics"
)

type Application struct {
	appConfig *config.AppConfig
	st        *store.Store
	sched     *cron.Cron
	bus       EventBus.Bus
}

// Ensure Application implements all interfaces
var (
	_ StoreProvider     = (*Application)(nil)
	_ ConfigProvider    = (*Application)(nil)
	_ SchedulerProvider = (*Application)(nil)
	_ BusProvider       = (*Application)(nil)
	_ AppContext        = (*Application)(nil)
)

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig, bus: EventBus.New()}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) Store() *store.Store {
	return a.st
}

// OverrideStore replaces the application's store (used in tests).
func (a *Application) OverrideStore(st *store.Store) {
	a.st = st
}

func (a *Application) Bus() EventBus.Bus {
	return a.bus
}

// Scheduler returns the cron scheduler
func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

func (a *Application) Init(cfg *config.AppConfig) error {
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	// Initialize zap logger
	var zapConfig zap.Config
	if cfg.Logger.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.OutputPaths = []string{"stdout"}

	// Build logger with file rotation if enabled
	var logger *zap.Logger
	if cfg.Logger.FileEnable {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.Logger.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
			Compress:   false,
		}

		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(lumberJackLogger),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		logger = zap.New(core, zap.AddCaller())
	} else {
		logger, err = zapConfig.Build(zap.AddCaller())
		if err != nil {
			return err
		}
	}
	zap.ReplaceGlobals(logger)
	logConfigWarnings(cfg)

	// Initialize metrics with workdir convention
	if err := metrics.InitMetrics(cfg.System.Workdir); err != nil {
		zap.S().Warn("Failed to initialize metrics:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.st, err = store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	zap.S().Infof("Store ready, backend: %s", a.st.Kind())

	if err := a.MigrateDB(false); err != nil {
		zap.S().Errorf("database migration failed: %v", err)
	}
	a.ensureAdminUser(ctx)

	a.initJob()
	return nil
}

// logConfigWarnings reports what LoadConfig could only decide before the
// logger existed.
func logConfigWarnings(cfg *config.AppConfig) {
	if cfg.SecretGenerated() {
		zap.S().Warn("web.jwt_secret is empty, generated a random secret; issued tokens will not survive a restart")
	}
}

func (a *Application) MigrateDB(track bool) (err error) {
	defer func() {
		if err1 := recover(); err1 != nil {
			if os.Getenv("GO_DEGUB_TRACE") != "" {
				debug.PrintStack()
			}
			err2, ok := err1.(error)
			if ok {
				err = err2
				zap.S().Error(err2.Error())
			}
		}
	}()
	return a.st.Migrate(track)
}

// InitDb drops and recreates the relational schema.
func (a *Application) InitDb() {
	db := a.st.DB()
	if db == nil {
		zap.S().Warnf("initdb is only supported by relational backends, current backend: %s", a.st.Kind())
		return
	}
	_ = db.Migrator().DropTable(domain.Tables...)
	if err := db.Migrator().AutoMigrate(domain.Tables...); err != nil {
		zap.S().Error(err)
	}
}

// Release stops background jobs and closes the store.
func (a *Application) Release() {
	if a.sched != nil {
		<-a.sched.Stop().Done()
	}
	a.bus.WaitAsync()
	if a.st != nil {
		if err := a.st.Close(); err != nil {
			zap.S().Error(err)
		}
	}
	_ = metrics.Close()
	_ = zap.L().Sync()
}
