package store

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/talkincode/wabot/internal/domain"
)

const (
	colUsers    = "users"
	colBots     = "bots"
	colMessages = "messages"
)

// OpenMongo connects to uri. The database name falls back to the URI path,
// then to "wabot".
func OpenMongo(ctx context.Context, uri, name string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "ping mongodb")
	}

	if name == "" {
		name = mongoDBName(uri)
	}
	db := client.Database(name)
	if err := ensureMongoIndexes(ctx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	zap.L().Info("store: connected to mongodb", zap.String("database", name))

	return &Store{
		Users:    &mongoUserRepository{col: db.Collection(colUsers)},
		Bots:     &mongoBotRepository{col: db.Collection(colBots)},
		Messages: &mongoMessageRepository{col: db.Collection(colMessages)},
		kind:     KindMongo,
		closer: func() error {
			return client.Disconnect(context.Background())
		},
	}, nil
}

func mongoDBName(uri string) string {
	if u, err := url.Parse(uri); err == nil {
		if n := strings.Trim(u.Path, "/"); n != "" {
			return n
		}
	}
	return "wabot"
}

func ensureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	unique := options.Index().SetUnique(true)
	specs := map[string][]mongo.IndexModel{
		colUsers: {
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique},
		},
		colBots: {
			{Keys: bson.D{{Key: "owner_id", Value: 1}}},
		},
		colMessages: {
			{Keys: bson.D{{Key: "bot_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		},
	}
	for col, models := range specs {
		if _, err := db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "create %s indexes", col)
		}
	}
	return nil
}

func mongoErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicate
	}
	return errors.Wrap(err, what)
}

type mongoUserRepository struct {
	col *mongo.Collection
}

func (r *mongoUserRepository) Create(ctx context.Context, u *domain.User) error {
	prepareUser(u)
	_, err := r.col.InsertOne(ctx, u)
	return mongoErr(err, "insert user")
}

func (r *mongoUserRepository) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	var u domain.User
	if err := r.col.FindOne(ctx, filter).Decode(&u); err != nil {
		return nil, mongoErr(err, "find user")
	}
	return &u, nil
}

func (r *mongoUserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *mongoUserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

func (r *mongoUserRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	n, err := r.col.CountDocuments(ctx, bson.M{"$or": []bson.M{{"username": username}, {"email": email}}})
	if err != nil {
		return false, mongoErr(err, "count users")
	}
	return n > 0, nil
}

type mongoBotRepository struct {
	col *mongo.Collection
}

func (r *mongoBotRepository) Create(ctx context.Context, b *domain.Bot) error {
	prepareBot(b)
	_, err := r.col.InsertOne(ctx, b)
	return mongoErr(err, "insert bot")
}

func (r *mongoBotRepository) findOne(ctx context.Context, filter bson.M) (*domain.Bot, error) {
	var b domain.Bot
	if err := r.col.FindOne(ctx, filter).Decode(&b); err != nil {
		return nil, mongoErr(err, "find bot")
	}
	return &b, nil
}

func (r *mongoBotRepository) find(ctx context.Context, filter bson.M) ([]*domain.Bot, error) {
	cur, err := r.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, mongoErr(err, "find bots")
	}
	bots := make([]*domain.Bot, 0)
	if err := cur.All(ctx, &bots); err != nil {
		return nil, mongoErr(err, "decode bots")
	}
	return bots, nil
}

func (r *mongoBotRepository) GetByID(ctx context.Context, id int64) (*domain.Bot, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *mongoBotRepository) GetOwned(ctx context.Context, id, ownerID int64) (*domain.Bot, error) {
	return r.findOne(ctx, bson.M{"_id": id, "owner_id": ownerID})
}

func (r *mongoBotRepository) ListByOwner(ctx context.Context, ownerID int64) ([]*domain.Bot, error) {
	return r.find(ctx, bson.M{"owner_id": ownerID})
}

func (r *mongoBotRepository) ListPaired(ctx context.Context) ([]*domain.Bot, error) {
	return r.find(ctx, bson.M{"jid": bson.M{"$ne": ""}})
}

func (r *mongoBotRepository) set(ctx context.Context, id int64, values bson.M, what string) error {
	values["updated_at"] = time.Now()
	res, err := r.col.UpdateByID(ctx, id, bson.M{"$set": values})
	if err != nil {
		return mongoErr(err, what)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoBotRepository) Update(ctx context.Context, b *domain.Bot) error {
	return r.set(ctx, b.ID, bson.M{
		"name":            b.Name,
		"description":     b.Description,
		"welcome_message": b.WelcomeMessage,
		"auto_replies":    b.AutoReplies,
		"webhook_url":     b.WebhookURL,
		"auto_start":      b.AutoStart,
	}, "update bot")
}

func (r *mongoBotRepository) UpdateStatus(ctx context.Context, id int64, status string, lastConnected *time.Time) error {
	values := bson.M{"status": status}
	if lastConnected != nil {
		values["last_connected"] = *lastConnected
	}
	return r.set(ctx, id, values, "update bot status")
}

func (r *mongoBotRepository) UpdateJid(ctx context.Context, id int64, jid, phone string) error {
	return r.set(ctx, id, bson.M{"jid": jid, "phone": phone}, "update bot jid")
}

func (r *mongoBotRepository) ResetStatuses(ctx context.Context) error {
	_, err := r.col.UpdateMany(ctx,
		bson.M{"status": bson.M{"$ne": domain.BotStatusDisconnected}},
		bson.M{"$set": bson.M{"status": domain.BotStatusDisconnected, "updated_at": time.Now()}})
	return mongoErr(err, "reset bot statuses")
}

func (r *mongoBotRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return mongoErr(err, "delete bot")
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

type mongoMessageRepository struct {
	col *mongo.Collection
}

func (r *mongoMessageRepository) Create(ctx context.Context, m *domain.Message) error {
	prepareMessage(m)
	_, err := r.col.InsertOne(ctx, m)
	return mongoErr(err, "insert message")
}

func (r *mongoMessageRepository) List(ctx context.Context, f domain.MessageFilter) ([]*domain.Message, int64, error) {
	limit, offset := pageBounds(f)
	filter := bson.M{"bot_id": f.BotID}
	if f.Contact != "" {
		filter["$or"] = []bson.M{{"from_number": f.Contact}, {"to_number": f.Contact}}
	}
	if f.Before != nil {
		filter["timestamp"] = bson.M{"$lt": *f.Before}
	}

	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, mongoErr(err, "count messages")
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, mongoErr(err, "find messages")
	}
	msgs := make([]*domain.Message, 0, limit)
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, 0, mongoErr(err, "decode messages")
	}
	return msgs, total, nil
}

func (r *mongoMessageRepository) DeleteByBot(ctx context.Context, botID int64) error {
	_, err := r.col.DeleteMany(ctx, bson.M{"bot_id": botID})
	return mongoErr(err, "delete messages")
}

func (r *mongoMessageRepository) DeleteOlderThan(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": t}})
	if err != nil {
		return 0, mongoErr(err, "delete expired messages")
	}
	return res.DeletedCount, nil
}
