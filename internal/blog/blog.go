// Package blog is the blog example: posts with embedded comments, view
// counters bumped with $inc, tag lookups, a most-viewed ranking and summary
// statistics computed by an aggregation pipeline.
package blog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/eugenenazirov/mongo-crud/internal/storage"
)

const (
	// Database is the database the example runs against.
	Database = "blog_db"
	// Collection holds post documents.
	Collection = "posts"

	maxViewsPerVisit = 5
)

// Comment is embedded in a post's comments array.
type Comment struct {
	Author string    `bson:"author"`
	Text   string    `bson:"text"`
	Date   time.Time `bson:"date"`
}

// Post is a document of the posts collection. Drafts carry created_at,
// published posts carry published_at.
type Post struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Title       string             `bson:"title"`
	Author      string             `bson:"author"`
	Content     string             `bson:"content"`
	Tags        []string           `bson:"tags"`
	Views       int                `bson:"views"`
	Likes       int                `bson:"likes"`
	Comments    []Comment          `bson:"comments"`
	Published   bool               `bson:"published"`
	PublishedAt *time.Time         `bson:"published_at,omitempty"`
	CreatedAt   *time.Time         `bson:"created_at,omitempty"`
}

// Stats summarises the collection.
type Stats struct {
	Total      int64
	Published  int64
	TotalViews int64
}

// SeedPosts returns two published posts and one draft dated relative to now.
func SeedPosts(now time.Time) []Post {
	firstPublished := now.AddDate(0, 0, -5)
	secondPublished := now.AddDate(0, 0, -3)
	draftCreated := now.AddDate(0, 0, -1)

	return []Post{
		{
			Title:       "Introduction to MongoDB",
			Author:      "João Silva",
			Content:     "MongoDB is a NoSQL document database...",
			Tags:        []string{"mongodb", "nosql", "database"},
			Comments:    []Comment{},
			Published:   true,
			PublishedAt: &firstPublished,
		},
		{
			Title:       "Go and the MongoDB driver",
			Author:      "Maria Santos",
			Content:     "The official Go driver is...",
			Tags:        []string{"go", "driver", "mongodb"},
			Comments:    []Comment{},
			Published:   true,
			PublishedAt: &secondPublished,
		},
		{
			Title:     "CRUD Operations",
			Author:    "Pedro Oliveira",
			Content:   "CRUD stands for Create, Read, Update, Delete...",
			Tags:      []string{"crud", "database", "operations"},
			Comments:  []Comment{},
			Published: false,
			CreatedAt: &draftCreated,
		},
	}
}

// Blog runs post queries against one collection.
type Blog struct {
	coll  *mongo.Collection
	clock func() time.Time
	rand  *rand.Rand
}

// Option configures a Blog.
type Option func(*Blog)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(b *Blog) {
		b.clock = clock
	}
}

// WithRand sets the source used to pick view increments.
func WithRand(r *rand.Rand) Option {
	return func(b *Blog) {
		b.rand = r
	}
}

// New binds a blog to coll.
func New(coll *mongo.Collection, opts ...Option) *Blog {
	b := &Blog{
		coll: coll,
		clock: func() time.Time {
			return time.Now().UTC()
		},
		rand: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Reset removes every post.
func (b *Blog) Reset(ctx context.Context) (int64, error) {
	var res *mongo.DeleteResult
	err := b.observe("delete_many", func() (err error) {
		res, err = b.coll.DeleteMany(ctx, bson.M{})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reset posts: %w", err)
	}
	return res.DeletedCount, nil
}

// Seed inserts posts and returns how many were stored.
func (b *Blog) Seed(ctx context.Context, posts []Post) (int, error) {
	docs := make([]interface{}, len(posts))
	for i := range posts {
		docs[i] = posts[i]
	}

	var res *mongo.InsertManyResult
	err := b.observe("insert_many", func() (err error) {
		res, err = b.coll.InsertMany(ctx, docs)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("seed posts: %w", err)
	}
	return len(res.InsertedIDs), nil
}

// SimulateViews runs visits rounds; each round picks a published post and adds
// between 1 and 5 views to it. It returns the number of views added.
func (b *Blog) SimulateViews(ctx context.Context, visits int) (int, error) {
	added := 0
	for range visits {
		var post Post
		err := b.observe("find_published", func() error {
			return b.coll.FindOne(ctx, bson.M{"published": true}).Decode(&post)
		})
		if errors.Is(err, mongo.ErrNoDocuments) {
			return added, nil
		}
		if err != nil {
			return added, fmt.Errorf("pick published post: %w", err)
		}

		views := b.rand.IntN(maxViewsPerVisit) + 1
		err = b.observe("add_views", func() error {
			_, err := b.coll.UpdateOne(ctx, bson.M{"_id": post.ID}, bson.M{"$inc": bson.M{"views": views}})
			return err
		})
		if err != nil {
			return added, fmt.Errorf("add views to %q: %w", post.Title, err)
		}
		added += views
	}
	return added, nil
}

// AddComments appends comments to the post with the given title in one
// $push/$each update. It reports whether the post exists.
func (b *Blog) AddComments(ctx context.Context, title string, comments []Comment) (bool, error) {
	update := bson.M{"$push": bson.M{"comments": bson.M{"$each": comments}}}

	var res *mongo.UpdateResult
	err := b.observe("add_comments", func() (err error) {
		res, err = b.coll.UpdateOne(ctx, bson.M{"title": title}, update)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("add comments to %q: %w", title, err)
	}
	return res.MatchedCount > 0, nil
}

// ByTag lists posts carrying tag.
func (b *Blog) ByTag(ctx context.Context, tag string) ([]Post, error) {
	return b.find(ctx, "find_by_tag", bson.M{"tags": tag})
}

// MostViewed lists up to limit published posts ordered by views, highest first.
func (b *Blog) MostViewed(ctx context.Context, limit int64) ([]Post, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "views", Value: -1}}).
		SetLimit(limit)
	return b.find(ctx, "find_most_viewed", bson.M{"published": true}, opts)
}

// PublishFirstDraft publishes one draft and reports whether a draft existed.
func (b *Blog) PublishFirstDraft(ctx context.Context) (bool, error) {
	update := bson.M{"$set": bson.M{
		"published":    true,
		"published_at": b.clock().Truncate(time.Millisecond),
	}}

	var res *mongo.UpdateResult
	err := b.observe("publish_draft", func() (err error) {
		res, err = b.coll.UpdateOne(ctx, bson.M{"published": false}, update)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("publish draft: %w", err)
	}
	return res.MatchedCount > 0, nil
}

// Stats counts posts, published posts and the views across all posts.
func (b *Blog) Stats(ctx context.Context) (Stats, error) {
	var stats Stats

	err := b.observe("count", func() (err error) {
		stats.Total, err = b.coll.CountDocuments(ctx, bson.M{})
		return err
	})
	if err != nil {
		return Stats{}, fmt.Errorf("count posts: %w", err)
	}

	err = b.observe("count_published", func() (err error) {
		stats.Published, err = b.coll.CountDocuments(ctx, bson.M{"published": true})
		return err
	})
	if err != nil {
		return Stats{}, fmt.Errorf("count published posts: %w", err)
	}

	var totals []struct {
		Total int64 `bson:"total"`
	}
	err = b.observe("sum_views", func() error {
		cursor, err := b.coll.Aggregate(ctx, viewsPipeline())
		if err != nil {
			return err
		}
		return cursor.All(ctx, &totals)
	})
	if err != nil {
		return Stats{}, fmt.Errorf("sum views: %w", err)
	}
	if len(totals) > 0 {
		stats.TotalViews = totals[0].Total
	}
	return stats, nil
}

// Run clears the collection, seeds the sample posts and walks through every
// query, writing a report to out.
func (b *Blog) Run(ctx context.Context, out io.Writer) error {
	fmt.Fprintln(out, "Blog example")

	if _, err := b.Reset(ctx); err != nil {
		return err
	}
	now := b.clock().Truncate(time.Millisecond)
	n, err := b.Seed(ctx, SeedPosts(now))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d posts created\n", n)

	fmt.Fprintln(out, "\nSimulating visits:")
	views, err := b.SimulateViews(ctx, 10)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  - %d views recorded\n", views)

	fmt.Fprintln(out, "\nAdding comments:")
	comments := []Comment{
		{Author: "Ana Costa", Text: "Great article!", Date: now.Add(-2 * time.Hour)},
		{Author: "Carlos Lima", Text: "Very useful, thanks!", Date: now.Add(-time.Hour)},
	}
	if _, err := b.AddComments(ctx, "Introduction to MongoDB", comments); err != nil {
		return err
	}
	fmt.Fprintf(out, "  - %d comments added\n", len(comments))

	tagged, err := b.ByTag(ctx, "mongodb")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nPosts tagged mongodb:")
	for _, p := range tagged {
		fmt.Fprintf(out, "  - %s by %s\n", p.Title, p.Author)
	}

	popular, err := b.MostViewed(ctx, 3)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nMost viewed posts:")
	for i, p := range popular {
		fmt.Fprintf(out, "  %d. %s: %d views\n", i+1, p.Title, p.Views)
	}

	fmt.Fprintln(out, "\nPublishing a draft:")
	published, err := b.PublishFirstDraft(ctx)
	if err != nil {
		return err
	}
	if published {
		fmt.Fprintln(out, "  - draft published")
	} else {
		fmt.Fprintln(out, "  - no draft to publish")
	}

	stats, err := b.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nBlog statistics:")
	fmt.Fprintf(out, "  - total posts: %d\n", stats.Total)
	fmt.Fprintf(out, "  - published posts: %d\n", stats.Published)
	fmt.Fprintf(out, "  - total views: %d\n", stats.TotalViews)
	return nil
}

func viewsPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$views"}}},
		}}},
	}
}

func (b *Blog) find(ctx context.Context, op string, filter bson.M, opts ...*options.FindOptions) ([]Post, error) {
	var posts []Post
	err := b.observe(op, func() error {
		cursor, err := b.coll.Find(ctx, filter, opts...)
		if err != nil {
			return err
		}
		return cursor.All(ctx, &posts)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return posts, nil
}

func (b *Blog) observe(op string, fn func() error) error {
	if b.coll == nil {
		return storage.ErrNotConnected
	}
	return storage.Observe(b.coll.Name(), op, fn)
}
