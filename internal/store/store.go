// Package store persists users, bots and message history. The same
// repositories are served by a relational backend (gorm), MongoDB and a
// bbolt file, selected from configuration.
package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/talkincode/wabot/config"
	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/pkg/common"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

var newID = common.UUIDint64

const (
	KindGorm  = "gorm"
	KindMongo = "mongo"
	KindBolt  = "bolt"
)

type UserRepository interface {
	// Create inserts u, assigning ID and timestamps. Returns ErrDuplicate
	// when the username or email is taken.
	Create(ctx context.Context, u *domain.User) error
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
}

type BotRepository interface {
	Create(ctx context.Context, b *domain.Bot) error
	GetByID(ctx context.Context, id int64) (*domain.Bot, error)
	// GetOwned returns ErrNotFound unless the bot belongs to ownerID.
	GetOwned(ctx context.Context, id, ownerID int64) (*domain.Bot, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]*domain.Bot, error)
	// ListPaired returns every bot that has a device session.
	ListPaired(ctx context.Context) ([]*domain.Bot, error)
	Update(ctx context.Context, b *domain.Bot) error
	UpdateStatus(ctx context.Context, id int64, status string, lastConnected *time.Time) error
	UpdateJid(ctx context.Context, id int64, jid, phone string) error
	// ResetStatuses marks every bot disconnected.
	ResetStatuses(ctx context.Context) error
	Delete(ctx context.Context, id int64) error
}

type MessageRepository interface {
	Create(ctx context.Context, m *domain.Message) error
	// List returns one page, newest first, and the number of matching records.
	List(ctx context.Context, f domain.MessageFilter) ([]*domain.Message, int64, error)
	DeleteByBot(ctx context.Context, botID int64) error
	DeleteOlderThan(ctx context.Context, t time.Time) (int64, error)
}

// Store groups the repositories of one backend.
type Store struct {
	Users    UserRepository
	Bots     BotRepository
	Messages MessageRepository

	kind   string
	gormDB *gorm.DB
	closer func() error
}

func (s *Store) Kind() string {
	return s.kind
}

// DB returns the gorm handle, nil for non relational backends.
func (s *Store) DB() *gorm.DB {
	return s.gormDB
}

// SQLDB returns the underlying connection and its whatsmeow dialect when the
// device store can live in the same database.
func (s *Store) SQLDB() (*sql.DB, string, bool) {
	if s.gormDB == nil {
		return nil, "", false
	}
	var dialect string
	switch s.gormDB.Dialector.Name() {
	case "sqlite":
		dialect = "sqlite3"
	case "postgres":
		dialect = "postgres"
	default:
		return nil, "", false
	}
	db, err := s.gormDB.DB()
	if err != nil {
		return nil, "", false
	}
	return db, dialect, true
}

// Migrate creates or updates the relational schema. Other backends create
// their buckets and indexes when opened.
func (s *Store) Migrate(track bool) error {
	if s.gormDB == nil {
		return nil
	}
	db := s.gormDB
	if track {
		db = db.Debug()
	}
	return db.Migrator().AutoMigrate(domain.Tables...)
}

func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// Open connects the configured backend. An incomplete or unreachable
// database falls back to the bolt file under the data directory.
func Open(ctx context.Context, cfg *config.AppConfig) (*Store, error) {
	dbType := strings.ToLower(strings.TrimSpace(cfg.Database.Type))
	if cfg.DatabaseIncomplete() {
		zap.L().Warn("store: database configuration is incomplete, using file storage instead",
			zap.String("type", dbType))
		return OpenBolt(cfg.GetBoltPath())
	}

	switch dbType {
	case "postgres", "postgresql", "mysql", "sqlite", "sqlite3":
		db, err := getDatabase(cfg.Database, cfg.GetDataDir())
		if err != nil {
			zap.L().Warn("store: database connection failed, using file storage instead",
				zap.String("type", dbType), zap.Error(err))
			return OpenBolt(cfg.GetBoltPath())
		}
		return NewGormStore(db), nil
	case "mongo", "mongodb":
		st, err := OpenMongo(ctx, cfg.Database.URL, cfg.Database.Name)
		if err != nil {
			zap.L().Warn("store: mongodb connection failed, using file storage instead", zap.Error(err))
			return OpenBolt(cfg.GetBoltPath())
		}
		return st, nil
	case "bolt", "file":
		return OpenBolt(cfg.GetBoltPath())
	}
	return nil, errors.New("unsupported database type: " + dbType)
}

func prepareUser(u *domain.User) {
	if u.ID == 0 {
		u.ID = newID()
	}
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
}

func prepareBot(b *domain.Bot) {
	if b.ID == 0 {
		b.ID = newID()
	}
	if b.Status == "" {
		b.Status = domain.BotStatusDisconnected
	}
	if b.AutoReplies == nil {
		b.AutoReplies = map[string]string{}
	}
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

func prepareMessage(m *domain.Message) {
	if m.ID == 0 {
		m.ID = newID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
}

func pageBounds(f domain.MessageFilter) (limit, offset int) {
	limit, offset = f.Limit, f.Offset
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return
}
