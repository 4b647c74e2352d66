package store

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/talkincode/wabot/config"
	"github.com/talkincode/wabot/internal/domain"
)

func getDatabase(cfg config.DBConfig, dataDir string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Type) {
	case "postgres", "postgresql":
		port := cfg.Port
		if port == 0 {
			port = 5432
		}
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			cfg.Host, port, cfg.User, cfg.Passwd, cfg.Name)
		dialector = postgres.Open(dsn)
	case "mysql":
		port := cfg.Port
		if port == 0 {
			port = 3306
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.User, cfg.Passwd, cfg.Host, port, cfg.Name)
		dialector = mysql.Open(dsn)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(sqliteDSN(cfg.Name, dataDir))
	default:
		return nil, fmt.Errorf("unsupported relational database type %q", cfg.Type)
	}

	logLevel := logger.Silent
	if cfg.Debug {
		logLevel = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", cfg.Type)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "obtain sql.DB")
	}
	if cfg.MaxConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConn)
	}
	if cfg.IdleConn > 0 {
		sqlDB.SetMaxIdleConns(cfg.IdleConn)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	if err := sqlDB.Ping(); err != nil {
		return nil, errors.Wrapf(err, "ping %s database", cfg.Type)
	}
	zap.L().Info("store: database connection successful", zap.String("type", cfg.Type))
	return db, nil
}

// sqliteDSN keeps explicit file: and memory names as given and places plain
// names under the data directory. Foreign keys are required by the device store.
func sqliteDSN(name, dataDir string) string {
	if strings.HasPrefix(name, "file:") || name == ":memory:" {
		return name
	}
	if !path.IsAbs(name) {
		name = path.Join(dataDir, name)
	}
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", name)
}

// NewGormStore wraps an open gorm connection.
func NewGormStore(db *gorm.DB) *Store {
	return &Store{
		Users:    &gormUserRepository{db: db},
		Bots:     &gormBotRepository{db: db},
		Messages: &gormMessageRepository{db: db},
		kind:     KindGorm,
		gormDB:   db,
		closer: func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	}
}

func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return errors.Wrap(err, what)
}

type gormUserRepository struct {
	db *gorm.DB
}

func (r *gormUserRepository) Create(ctx context.Context, u *domain.User) error {
	exists, err := r.ExistsByUsernameOrEmail(ctx, u.Username, u.Email)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicate
	}
	prepareUser(u)
	return translate(r.db.WithContext(ctx).Create(u).Error, "create user")
}

func (r *gormUserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, translate(err, "query user")
	}
	return &u, nil
}

func (r *gormUserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, translate(err, "query user")
	}
	return &u, nil
}

func (r *gormUserRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("username = ? OR email = ?", username, email).
		Count(&count).Error
	if err != nil {
		return false, translate(err, "count users")
	}
	return count > 0, nil
}

type gormBotRepository struct {
	db *gorm.DB
}

func (r *gormBotRepository) Create(ctx context.Context, b *domain.Bot) error {
	prepareBot(b)
	return translate(r.db.WithContext(ctx).Create(b).Error, "create bot")
}

func (r *gormBotRepository) GetByID(ctx context.Context, id int64) (*domain.Bot, error) {
	var b domain.Bot
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, translate(err, "query bot")
	}
	return &b, nil
}

func (r *gormBotRepository) GetOwned(ctx context.Context, id, ownerID int64) (*domain.Bot, error) {
	var b domain.Bot
	if err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&b).Error; err != nil {
		return nil, translate(err, "query bot")
	}
	return &b, nil
}

func (r *gormBotRepository) ListByOwner(ctx context.Context, ownerID int64) ([]*domain.Bot, error) {
	var bots []*domain.Bot
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id ASC").Find(&bots).Error; err != nil {
		return nil, translate(err, "list bots")
	}
	return bots, nil
}

func (r *gormBotRepository) ListPaired(ctx context.Context) ([]*domain.Bot, error) {
	var bots []*domain.Bot
	if err := r.db.WithContext(ctx).Where("jid <> ''").Order("id ASC").Find(&bots).Error; err != nil {
		return nil, translate(err, "list paired bots")
	}
	return bots, nil
}

func (r *gormBotRepository) Update(ctx context.Context, b *domain.Bot) error {
	b.UpdatedAt = time.Now()
	res := r.db.WithContext(ctx).Model(b).
		Select("name", "description", "welcome_message", "auto_replies", "webhook_url", "auto_start", "updated_at").
		Updates(b)
	if res.Error != nil {
		return translate(res.Error, "update bot")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormBotRepository) updates(ctx context.Context, id int64, values map[string]interface{}, what string) error {
	values["updated_at"] = time.Now()
	res := r.db.WithContext(ctx).Model(&domain.Bot{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return translate(res.Error, what)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormBotRepository) UpdateStatus(ctx context.Context, id int64, status string, lastConnected *time.Time) error {
	values := map[string]interface{}{"status": status}
	if lastConnected != nil {
		values["last_connected"] = *lastConnected
	}
	return r.updates(ctx, id, values, "update bot status")
}

func (r *gormBotRepository) UpdateJid(ctx context.Context, id int64, jid, phone string) error {
	return r.updates(ctx, id, map[string]interface{}{"jid": jid, "phone": phone}, "update bot jid")
}

func (r *gormBotRepository) ResetStatuses(ctx context.Context) error {
	err := r.db.WithContext(ctx).Model(&domain.Bot{}).
		Where("status <> ?", domain.BotStatusDisconnected).
		Update("status", domain.BotStatusDisconnected).Error
	return translate(err, "reset bot statuses")
}

func (r *gormBotRepository) Delete(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Bot{})
	if res.Error != nil {
		return translate(res.Error, "delete bot")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type gormMessageRepository struct {
	db *gorm.DB
}

func (r *gormMessageRepository) Create(ctx context.Context, m *domain.Message) error {
	prepareMessage(m)
	return translate(r.db.WithContext(ctx).Create(m).Error, "create message")
}

func (r *gormMessageRepository) List(ctx context.Context, f domain.MessageFilter) ([]*domain.Message, int64, error) {
	limit, offset := pageBounds(f)
	query := r.db.WithContext(ctx).Model(&domain.Message{}).Where("bot_id = ?", f.BotID)
	if f.Contact != "" {
		query = query.Where("from_number = ? OR to_number = ?", f.Contact, f.Contact)
	}
	if f.Before != nil {
		query = query.Where("timestamp < ?", *f.Before)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translate(err, "count messages")
	}
	var msgs []*domain.Message
	err := query.Order("timestamp DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, 0, translate(err, "list messages")
	}
	return msgs, total, nil
}

func (r *gormMessageRepository) DeleteByBot(ctx context.Context, botID int64) error {
	return translate(r.db.WithContext(ctx).Where("bot_id = ?", botID).Delete(&domain.Message{}).Error, "delete messages")
}

func (r *gormMessageRepository) DeleteOlderThan(ctx context.Context, t time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("timestamp < ?", t).Delete(&domain.Message{})
	return res.RowsAffected, translate(res.Error, "delete expired messages")
}
