package store

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/talkincode/wabot/internal/domain"
)

var (
	bucketUsers    = []byte("users")
	bucketBots     = []byte("bots")
	bucketMessages = []byte("messages")

	json = jsoniter.ConfigCompatibleWithStandardLibrary
)

// userRecord keeps the password hash, which the API model never serializes.
type userRecord struct {
	domain.User
	Password string `json:"password"`
}

// OpenBolt opens (or creates) the file store at file.
func OpenBolt(file string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
		return nil, errors.Wrap(err, "create bolt directory")
	}
	db, err := bolt.Open(file, 0o600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt file %s", file)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketUsers, bucketBots, bucketMessages} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create bolt buckets")
	}
	zap.L().Info("store: using file storage", zap.String("file", file))

	return &Store{
		Users:    &boltUserRepository{db: db},
		Bots:     &boltBotRepository{db: db},
		Messages: &boltMessageRepository{db: db},
		kind:     KindBolt,
		closer:   db.Close,
	}, nil
}

func itob(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func put(tx *bolt.Tx, bucket []byte, id int64, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put(itob(id), data)
}

type boltUserRepository struct {
	db *bolt.DB
}

func (r *boltUserRepository) scan(tx *bolt.Tx, match func(*userRecord) bool) (*userRecord, error) {
	var found *userRecord
	err := tx.Bucket(bucketUsers).ForEach(func(_, v []byte) error {
		var rec userRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		if match(&rec) {
			found = &rec
			return errStopScan
		}
		return nil
	})
	if errors.Is(err, errStopScan) {
		err = nil
	}
	return found, err
}

var errStopScan = errors.New("stop scan")

func (rec *userRecord) user() *domain.User {
	u := rec.User
	u.Password = rec.Password
	return &u
}

func (r *boltUserRepository) Create(_ context.Context, u *domain.User) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		dup, err := r.scan(tx, func(rec *userRecord) bool {
			return rec.Username == u.Username || rec.Email == u.Email
		})
		if err != nil {
			return errors.Wrap(err, "scan users")
		}
		if dup != nil {
			return ErrDuplicate
		}
		prepareUser(u)
		return put(tx, bucketUsers, u.ID, userRecord{User: *u, Password: u.Password})
	})
}

func (r *boltUserRepository) GetByID(_ context.Context, id int64) (*domain.User, error) {
	var u *domain.User
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get(itob(id))
		if data == nil {
			return ErrNotFound
		}
		var rec userRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return errors.Wrap(err, "decode user")
		}
		u = rec.user()
		return nil
	})
	return u, err
}

func (r *boltUserRepository) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	var u *domain.User
	err := r.db.View(func(tx *bolt.Tx) error {
		rec, err := r.scan(tx, func(rec *userRecord) bool { return rec.Username == username })
		if err != nil {
			return errors.Wrap(err, "scan users")
		}
		if rec == nil {
			return ErrNotFound
		}
		u = rec.user()
		return nil
	})
	return u, err
}

func (r *boltUserRepository) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	var exists bool
	err := r.db.View(func(tx *bolt.Tx) error {
		rec, err := r.scan(tx, func(rec *userRecord) bool {
			return rec.Username == username || rec.Email == email
		})
		exists = rec != nil
		return err
	})
	return exists, err
}

type boltBotRepository struct {
	db *bolt.DB
}

func getBot(tx *bolt.Tx, id int64) (*domain.Bot, error) {
	data := tx.Bucket(bucketBots).Get(itob(id))
	if data == nil {
		return nil, ErrNotFound
	}
	var b domain.Bot
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, errors.Wrap(err, "decode bot")
	}
	return &b, nil
}

func (r *boltBotRepository) list(match func(*domain.Bot) bool) ([]*domain.Bot, error) {
	bots := make([]*domain.Bot, 0)
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBots).ForEach(func(_, v []byte) error {
			var b domain.Bot
			if err := json.Unmarshal(v, &b); err != nil {
				return errors.Wrap(err, "decode bot")
			}
			if match(&b) {
				bots = append(bots, &b)
			}
			return nil
		})
	})
	return bots, err
}

// modify loads, mutates and stores one bot in a single transaction.
func (r *boltBotRepository) modify(id int64, fn func(*domain.Bot)) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := getBot(tx, id)
		if err != nil {
			return err
		}
		fn(b)
		b.UpdatedAt = time.Now()
		return put(tx, bucketBots, b.ID, b)
	})
}

func (r *boltBotRepository) Create(_ context.Context, b *domain.Bot) error {
	prepareBot(b)
	return r.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketBots, b.ID, b)
	})
}

func (r *boltBotRepository) GetByID(_ context.Context, id int64) (*domain.Bot, error) {
	var b *domain.Bot
	err := r.db.View(func(tx *bolt.Tx) (err error) {
		b, err = getBot(tx, id)
		return err
	})
	return b, err
}

func (r *boltBotRepository) GetOwned(ctx context.Context, id, ownerID int64) (*domain.Bot, error) {
	b, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return b, nil
}

func (r *boltBotRepository) ListByOwner(_ context.Context, ownerID int64) ([]*domain.Bot, error) {
	return r.list(func(b *domain.Bot) bool { return b.OwnerID == ownerID })
}

func (r *boltBotRepository) ListPaired(_ context.Context) ([]*domain.Bot, error) {
	return r.list(func(b *domain.Bot) bool { return b.Jid != "" })
}

func (r *boltBotRepository) Update(_ context.Context, b *domain.Bot) error {
	return r.modify(b.ID, func(cur *domain.Bot) {
		cur.Name = b.Name
		cur.Description = b.Description
		cur.WelcomeMessage = b.WelcomeMessage
		cur.AutoReplies = b.AutoReplies
		cur.WebhookURL = b.WebhookURL
		cur.AutoStart = b.AutoStart
	})
}

func (r *boltBotRepository) UpdateStatus(_ context.Context, id int64, status string, lastConnected *time.Time) error {
	return r.modify(id, func(b *domain.Bot) {
		b.Status = status
		if lastConnected != nil {
			t := *lastConnected
			b.LastConnected = &t
		}
	})
}

func (r *boltBotRepository) UpdateJid(_ context.Context, id int64, jid, phone string) error {
	return r.modify(id, func(b *domain.Bot) {
		b.Jid = jid
		b.Phone = phone
	})
}

func (r *boltBotRepository) ResetStatuses(_ context.Context) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketBots)
		var changed []*domain.Bot
		err := bucket.ForEach(func(_, v []byte) error {
			var b domain.Bot
			if err := json.Unmarshal(v, &b); err != nil {
				return errors.Wrap(err, "decode bot")
			}
			if b.Status != domain.BotStatusDisconnected {
				changed = append(changed, &b)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, b := range changed {
			b.Status = domain.BotStatusDisconnected
			b.UpdatedAt = time.Now()
			if err := put(tx, bucketBots, b.ID, b); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *boltBotRepository) Delete(_ context.Context, id int64) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketBots)
		if bucket.Get(itob(id)) == nil {
			return ErrNotFound
		}
		return bucket.Delete(itob(id))
	})
}

type boltMessageRepository struct {
	db *bolt.DB
}

func (r *boltMessageRepository) Create(_ context.Context, m *domain.Message) error {
	prepareMessage(m)
	return r.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketMessages, m.ID, m)
	})
}

func (r *boltMessageRepository) List(_ context.Context, f domain.MessageFilter) ([]*domain.Message, int64, error) {
	limit, offset := pageBounds(f)
	var matched []*domain.Message
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMessages).ForEach(func(_, v []byte) error {
			var m domain.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return errors.Wrap(err, "decode message")
			}
			if m.BotID != f.BotID {
				return nil
			}
			if f.Contact != "" && m.FromNumber != f.Contact && m.ToNumber != f.Contact {
				return nil
			}
			if f.Before != nil && !m.Timestamp.Before(*f.Before) {
				return nil
			}
			matched = append(matched, &m)
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	total := int64(len(matched))
	if offset >= len(matched) {
		return []*domain.Message{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (r *boltMessageRepository) deleteWhere(match func(*domain.Message) bool) (int64, error) {
	var n int64
	err := r.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMessages)
		var keys [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var m domain.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return errors.Wrap(err, "decode message")
			}
			if match(&m) {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func (r *boltMessageRepository) DeleteByBot(_ context.Context, botID int64) error {
	_, err := r.deleteWhere(func(m *domain.Message) bool { return m.BotID == botID })
	return err
}

func (r *boltMessageRepository) DeleteOlderThan(_ context.Context, t time.Time) (int64, error) {
	return r.deleteWhere(func(m *domain.Message) bool { return m.Timestamp.Before(t) })
}
