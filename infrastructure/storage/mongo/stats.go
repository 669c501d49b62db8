package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/ports"
)

var _ ports.StatsStore = (*StatsStore)(nil)

// StatsStore keeps one document per model in "model_stats".
type StatsStore struct {
	coll *mongo.Collection
}

// statDocument decodes records leniently: a null or missing model decodes
// as the empty string.
type statDocument struct {
	Model        string `bson:"model"`
	Wins         int64  `bson:"wins"`
	Losses       int64  `bson:"losses"`
	Ties         int64  `bson:"ties"`
	TotalBattles int64  `bson:"total_battles"`
}

// Increment sends one $inc upsert per delta in an unordered bulk write.
// Each document update is atomic on the server; the set of updates is not a
// transaction, so AtomicPairs is false.
func (s *StatsStore) Increment(ctx context.Context, deltas ...domain.StatDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(deltas))
	for _, d := range deltas {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"model": d.Model}).
			SetUpdate(bson.M{"$inc": bson.M{
				"wins":          d.Wins,
				"losses":        d.Losses,
				"ties":          d.Ties,
				"total_battles": d.Total(),
			}}).
			SetUpsert(true))
	}

	_, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err == nil {
		return nil
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) && len(bwe.WriteErrors) > 0 {
		return domain.NewStatsError(deltas[bwe.WriteErrors[0].Index].Model, classify("increment", err))
	}
	return domain.NewStatsError("", classify("increment", err))
}

// AtomicPairs is false: the two records of a vote are independent writes.
func (s *StatsStore) AtomicPairs() bool { return false }

// All returns every record sorted by model.
func (s *StatsStore) All(ctx context.Context) ([]domain.ModelStatRecord, error) {
	cursor, err := s.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "model", Value: 1}}))
	if err != nil {
		return nil, classify("list stats", err)
	}
	var docs []statDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, classify("list stats", err)
	}
	out := make([]domain.ModelStatRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.ModelStatRecord(d))
	}
	return out, nil
}

// Replace deletes every record and inserts records. The two steps are not
// atomic; a reader in between sees an empty leaderboard.
func (s *StatsStore) Replace(ctx context.Context, records []domain.ModelStatRecord) error {
	if _, err := s.coll.DeleteMany(ctx, bson.M{}); err != nil {
		return classify("replace delete", err)
	}
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(records))
	for _, r := range records {
		docs = append(docs, statDocument(r))
	}
	if _, err := s.coll.InsertMany(ctx, docs); err != nil {
		return classify("replace insert", err)
	}
	return nil
}

// RemoveInvalid deletes records whose model key is null, empty or missing,
// one category at a time so each count is reported separately.
func (s *StatsStore) RemoveInvalid(ctx context.Context) (ports.CleanupCounts, error) {
	var counts ports.CleanupCounts
	steps := []struct {
		filter bson.M
		count  *int64
	}{
		{filter: bson.M{"model": bson.M{"$type": "null"}}, count: &counts.Null},
		{filter: bson.M{"model": ""}, count: &counts.Empty},
		{filter: bson.M{"model": bson.M{"$exists": false}}, count: &counts.Missing},
	}
	for _, step := range steps {
		res, err := s.coll.DeleteMany(ctx, step.filter)
		if err != nil {
			return counts, classify("remove invalid", err)
		}
		*step.count = res.DeletedCount
	}
	return counts, nil
}
