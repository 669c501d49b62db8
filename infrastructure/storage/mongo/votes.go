package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/ports"
)

var _ ports.VoteStore = (*VoteStore)(nil)

// voteDocument is the stored shape of a vote event.
type voteDocument struct {
	ID                primitive.ObjectID `bson:"_id"`
	Timestamp         time.Time          `bson:"timestamp"`
	Prompt            string             `bson:"prompt"`
	PromptFingerprint string             `bson:"prompt_fingerprint"`
	ModelA            string             `bson:"model_a"`
	ModelB            string             `bson:"model_b"`
	Outcome           string             `bson:"outcome"`
	VoterToken        string             `bson:"voter_token,omitempty"`
}

func (d voteDocument) event() domain.VoteEvent {
	return domain.VoteEvent{
		ID:                domain.VoteID(d.ID.Hex()),
		Timestamp:         d.Timestamp.UTC(),
		Prompt:            d.Prompt,
		PromptFingerprint: d.PromptFingerprint,
		ModelA:            d.ModelA,
		ModelB:            d.ModelB,
		Outcome:           domain.Outcome(d.Outcome),
		VoterToken:        d.VoterToken,
	}
}

// VoteStore is the Mongo-backed append-only vote log.
type VoteStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

// Append inserts ev with a new ObjectID and the current UTC time. The id is
// returned only after the server acknowledged the insert.
func (s *VoteStore) Append(ctx context.Context, ev domain.VoteEvent) (domain.VoteID, error) {
	if ev.PromptFingerprint == "" {
		ev.PromptFingerprint = domain.Fingerprint(ev.Prompt)
	}
	doc := voteDocument{
		ID:                primitive.NewObjectID(),
		Timestamp:         s.now().UTC(),
		Prompt:            ev.Prompt,
		PromptFingerprint: ev.PromptFingerprint,
		ModelA:            ev.ModelA,
		ModelB:            ev.ModelB,
		Outcome:           string(ev.Outcome),
		VoterToken:        ev.VoterToken,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return "", classify("append", err)
	}
	return domain.VoteID(doc.ID.Hex()), nil
}

// Count returns the number of stored votes.
func (s *VoteStore) Count(ctx context.Context) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, classify("count", err)
	}
	return n, nil
}

// Scan streams every vote in timestamp order.
func (s *VoteStore) Scan(ctx context.Context, fn func(domain.VoteEvent) error) error {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return classify("scan", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc voteDocument
		if err := cursor.Decode(&doc); err != nil {
			return classify("scan decode", err)
		}
		if err := fn(doc.event()); err != nil {
			return err
		}
	}
	return classify("scan", cursor.Err())
}

// FindByFingerprint returns up to limit votes for a prompt fingerprint,
// oldest first. A non-positive limit returns all of them.
func (s *VoteStore) FindByFingerprint(ctx context.Context, fingerprint string, limit int) ([]domain.VoteEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, "find by fingerprint", bson.M{"prompt_fingerprint": fingerprint}, opts)
}

// Recent returns up to limit votes, newest first.
func (s *VoteStore) Recent(ctx context.Context, limit int) ([]domain.VoteEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, "recent", bson.M{}, opts)
}

// Ping verifies the server is reachable.
func (s *VoteStore) Ping(ctx context.Context) error {
	if err := s.coll.Database().Client().Ping(ctx, readpref.Primary()); err != nil {
		return classify("ping", err)
	}
	return nil
}

func (s *VoteStore) find(ctx context.Context, op string, filter bson.M, opts *options.FindOptions) ([]domain.VoteEvent, error) {
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, classify(op, err)
	}
	var docs []voteDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, classify(op, err)
	}
	out := make([]domain.VoteEvent, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.event())
	}
	return out, nil
}
