package whatsapp

import (
	"context"
	"fmt"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	"github.com/talkincode/wabot/config"
	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/internal/store"
)

// Client is the part of *whatsmeow.Client the manager drives.
type Client interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	IsLoggedIn() bool
	// IsPaired reports whether the device already has a session.
	IsPaired() bool
	OwnJID() types.JID
	GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
	AddEventHandler(handler whatsmeow.EventHandler) uint32
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
	Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
	Logout(ctx context.Context) error
	// Forget removes the local device session without contacting the server.
	Forget(ctx context.Context) error
}

// Provider creates clients for bots and removes stored device sessions.
type Provider interface {
	NewClient(ctx context.Context, bot *domain.Bot) (Client, error)
	ForgetDevice(ctx context.Context, jid string) error
}

type meowClient struct {
	*whatsmeow.Client
}

func (c *meowClient) IsPaired() bool {
	return c.Store.ID != nil
}

func (c *meowClient) OwnJID() types.JID {
	if c.Store.ID == nil {
		return types.EmptyJID
	}
	return c.Store.ID.ToNonAD()
}

func (c *meowClient) Forget(ctx context.Context) error {
	if c.Store.ID == nil {
		return nil
	}
	return c.Store.Delete(ctx)
}

type meowProvider struct {
	container *sqlstore.Container
}

// NewProvider serves clients from a whatsmeow device container.
func NewProvider(container *sqlstore.Container) Provider {
	return &meowProvider{container: container}
}

func (p *meowProvider) device(ctx context.Context, jid string) (*wastore.Device, error) {
	if jid == "" {
		return nil, nil
	}
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return nil, fmt.Errorf("parse device jid %q: %w", jid, err)
	}
	return p.container.GetDevice(ctx, parsed)
}

func (p *meowProvider) NewClient(ctx context.Context, bot *domain.Bot) (Client, error) {
	device, err := p.device(ctx, bot.Jid)
	if err != nil {
		return nil, err
	}
	if device == nil {
		if bot.Jid != "" {
			zap.L().Warn("whatsapp: stored device session is gone, pairing again",
				zap.Int64("bot_id", bot.ID), zap.String("jid", bot.Jid))
		}
		device = p.container.NewDevice()
	}
	cli := whatsmeow.NewClient(device, NewZapLogger("client/"+strconv.FormatInt(bot.ID, 10)))
	return &meowClient{Client: cli}, nil
}

func (p *meowProvider) ForgetDevice(ctx context.Context, jid string) error {
	device, err := p.device(ctx, jid)
	if err != nil || device == nil {
		return err
	}
	return p.container.DeleteDevice(ctx, device)
}

// OpenContainer opens the device session store. Sessions share the
// application database when it is sqlite or postgres, otherwise they live
// in a separate sqlite file under the data directory.
func OpenContainer(ctx context.Context, st *store.Store, cfg *config.AppConfig) (*sqlstore.Container, error) {
	log := NewZapLogger("sqlstore")
	if db, dialect, ok := st.SQLDB(); ok {
		container := sqlstore.NewWithDB(db, dialect, log)
		if err := container.Upgrade(ctx); err != nil {
			return nil, fmt.Errorf("sqlstore upgrade failed: %w", err)
		}
		zap.L().Info("whatsapp: device sessions share the application database", zap.String("dialect", dialect))
		return container, nil
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", cfg.GetWhatsmeowDBPath())
	container, err := sqlstore.New(ctx, "sqlite3", dsn, log)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	zap.L().Info("whatsapp: device sessions stored in sqlite file", zap.String("file", cfg.GetWhatsmeowDBPath()))
	return container, nil
}
