package storage

import (
	"context"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"medremind/internal/reminder"
	logx "medremind/pkg/logx"
)

// mongoDoc is the document layout shared with earlier deployments. Documents
// written before medicine_key existed are still matched by label regex.
type mongoDoc struct {
	UserID      string    `bson:"user_id"`
	Email       string    `bson:"email"`
	Medicine    string    `bson:"medicine"`
	MedicineKey string    `bson:"medicine_key,omitempty"`
	Time        string    `bson:"time"`
	Timezone    string    `bson:"timezone,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
}

func (d mongoDoc) reminder() reminder.Reminder {
	return reminder.Reminder{
		SubjectID:  d.UserID,
		Address:    d.Email,
		Medication: d.Medicine,
		Time:       d.Time,
		Timezone:   d.Timezone,
		CreatedAt:  d.CreatedAt.UTC(),
	}
}

type mongoStore struct {
	client *mongo.Client
	col    *mongo.Collection
	log    logx.Logger
	op     time.Duration
}

func openMongo(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(cfg.ConnectTimeout).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetTimeout(cfg.OpTimeout)

	cctx, cancel := opCtx(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(cctx, opts)
	if err != nil {
		return nil, unavailable("connect mongo", err)
	}
	// Connect is lazy; ping to fail fast on an unreachable server.
	if err := client.Ping(cctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, unavailable("ping mongo", err)
	}

	col := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err = col.Indexes().CreateMany(cctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "medicine_key", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"medicine_key": bson.M{"$exists": true}}),
		},
	})
	if err != nil {
		log.Warn("mongo index setup failed", logx.Err(err))
	}

	log.Info("store opened", logx.String("database", cfg.Database), logx.String("collection", cfg.Collection))
	return &mongoStore{client: client, col: col, log: log, op: cfg.OpTimeout}, nil
}

func (s *mongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *mongoStore) Ping(ctx context.Context) error {
	ctx, cancel := opCtx(ctx, s.op)
	defer cancel()
	return unavailable("ping", s.client.Ping(ctx, readpref.Primary()))
}

// labelFilter matches a medication label case-insensitively and exactly.
func labelFilter(subjectID, medication string) bson.M {
	return bson.M{
		"user_id":  subjectID,
		"medicine": primitive.Regex{Pattern: "^" + regexp.QuoteMeta(medication) + "$", Options: "i"},
	}
}

func (s *mongoStore) Upsert(ctx context.Context, r reminder.Reminder) (reminder.Reminder, error) {
	ctx, cancel := opCtx(ctx, s.op)
	defer cancel()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	filter := labelFilter(r.SubjectID, r.Medication)
	update := bson.M{
		"$set": bson.M{
			"email":        r.Address,
			"medicine":     r.Medication,
			"medicine_key": reminder.MedicationKey(r.Medication),
			"time":         r.Time,
			"timezone":     r.Timezone,
		},
		"$setOnInsert": bson.M{"created_at": r.CreatedAt.UTC()},
	}
	after := options.After
	fopts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(after)

	var doc mongoDoc
	err := s.col.FindOneAndUpdate(ctx, filter, update, fopts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// A concurrent upsert inserted the same key first; this one now updates it.
		err = s.col.FindOneAndUpdate(ctx, filter, update, fopts).Decode(&doc)
	}
	if err != nil {
		return reminder.Reminder{}, unavailable("upsert", err)
	}
	return doc.reminder(), nil
}

func (s *mongoStore) ListAll(ctx context.Context) ([]reminder.Reminder, error) {
	return s.find(ctx, "list", bson.M{})
}

func (s *mongoStore) ListByAddress(ctx context.Context, address string) ([]reminder.Reminder, error) {
	return s.find(ctx, "list by address", bson.M{"email": reminder.NormalizeAddress(address)})
}

func (s *mongoStore) find(ctx context.Context, op string, filter bson.M) ([]reminder.Reminder, error) {
	ctx, cancel := opCtx(ctx, s.op)
	defer cancel()
	cur, err := s.col.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 0}).SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, unavailable(op, err)
	}
	var docs []mongoDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable(op, err)
	}
	out := make([]reminder.Reminder, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.reminder())
	}
	return out, nil
}

// Delete removes every matching document so duplicates left by older
// deployments are cleaned up too.
func (s *mongoStore) Delete(ctx context.Context, subjectID, medication string) (bool, error) {
	ctx, cancel := opCtx(ctx, s.op)
	defer cancel()
	res, err := s.col.DeleteMany(ctx, labelFilter(subjectID, medication))
	if err != nil {
		return false, unavailable("delete", err)
	}
	return res.DeletedCount > 0, nil
}

