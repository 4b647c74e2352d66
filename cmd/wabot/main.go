package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/talkincode/wabot/config"
	"github.com/talkincode/wabot/internal/adminapi"
	"github.com/talkincode/wabot/internal/app"
	"github.com/talkincode/wabot/internal/webhook"
	"github.com/talkincode/wabot/internal/webserver"
	"github.com/talkincode/wabot/internal/whatsapp"
	"github.com/talkincode/wabot/internal/ws"
)

var (
	BuildVersion = "latest"
	BuildTime    = ""
)

var (
	h        = flag.Bool("h", false, "help usage")
	showVer  = flag.Bool("v", false, "show version")
	conffile = flag.String("c", "", "config yaml file")
	envfile  = flag.String("env", ".env", "dotenv file")
	initdb   = flag.Bool("initdb", false, "drop and recreate the relational schema, then exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("wabot %s %s\n", BuildVersion, BuildTime)
		return
	}
	if *h {
		flag.Usage()
		return
	}

	if err := godotenv.Load(*envfile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("load %s: %v", *envfile, err)
	}

	cfg := config.LoadConfig(*conffile)
	application := app.NewApplication(cfg)
	if err := application.Init(cfg); err != nil {
		log.Fatalf("init application: %v", err)
	}

	if *initdb {
		application.InitDb()
		application.Release()
		return
	}

	err := run(application)
	application.Release()
	if err != nil {
		log.Fatal(err)
	}
}

func run(application *app.Application) error {
	cfg := application.Config()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := whatsapp.OpenContainer(ctx, application.Store(), cfg)
	if err != nil {
		return fmt.Errorf("open device store: %w", err)
	}
	manager := whatsapp.NewManager(application, whatsapp.NewProvider(container))
	if err := manager.ScheduleHealthCheck(); err != nil {
		return fmt.Errorf("schedule health check: %w", err)
	}

	dispatcher := webhook.NewDispatcher(application)
	if err := dispatcher.Subscribe(); err != nil {
		return fmt.Errorf("subscribe webhook dispatcher: %w", err)
	}
	defer dispatcher.Unsubscribe()

	webserver.Init(cfg)
	hub := ws.NewHub(manager, func(token string) (int64, error) {
		return webserver.UserIDFromToken(cfg.Web.JwtSecret, token)
	}, cfg.Web.AllowedOrigins)
	if err := hub.Subscribe(application.Bus()); err != nil {
		return fmt.Errorf("subscribe socket hub: %w", err)
	}
	defer hub.Unsubscribe(application.Bus())
	webserver.RootGET("/ws", hub.ServeWS)
	adminapi.Init(application, manager)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(webserver.Listen)
	g.Go(func() error {
		if err := manager.Restore(gctx); err != nil {
			zap.L().Error("whatsapp: restore bots failed", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down")
		manager.Shutdown()
		return webserver.Shutdown(context.Background())
	})
	return g.Wait()
}
