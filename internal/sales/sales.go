// Package sales is the aggregation example: randomly generated sales grouped
// by product, by seller and by day through $group, $match, $dateToString and
// $sort pipelines.
package sales

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/eugenenazirov/mongo-crud/internal/storage"
)

const (
	// Database is the database the example runs against.
	Database = "sales_db"
	// Collection holds sale documents.
	Collection = "sales"

	// DefaultSaleCount is the number of sales Run generates.
	DefaultSaleCount = 50
	// RecentWindow is the period covered by the daily report.
	RecentWindow = 7 * 24 * time.Hour

	maxQuantity  = 10
	minUnitPrice = 50.0
	maxUnitPrice = 2000.0
	maxAgeDays   = 30
)

var (
	// Products are the items sales are drawn from.
	Products = []string{"Notebook", "Mouse", "Keyboard", "Monitor", "Smartphone"}
	// Sellers are the people sales are attributed to.
	Sellers = []string{"Ana", "Bruno", "Carlos", "Diana", "Eduardo"}
)

// Sale is a document of the sales collection.
type Sale struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Product   string             `bson:"product"`
	Seller    string             `bson:"seller"`
	Quantity  int                `bson:"quantity"`
	UnitPrice float64            `bson:"unit_price"`
	Total     float64            `bson:"total"`
	SoldAt    time.Time          `bson:"sold_at"`
}

// ProductTotal is one row of the by-product report.
type ProductTotal struct {
	Product  string  `bson:"_id"`
	Total    float64 `bson:"total_sales"`
	Quantity int64   `bson:"quantity_sold"`
}

// SellerTotal is one row of the by-seller report.
type SellerTotal struct {
	Seller string  `bson:"_id"`
	Total  float64 `bson:"total_sales"`
	Count  int64   `bson:"sales_count"`
}

// Average is the mean value of the seller's sales.
func (s SellerTotal) Average() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Total / float64(s.Count)
}

// DailyTotal is one row of the per-day report. Day is formatted YYYY-MM-DD.
type DailyTotal struct {
	Day   string  `bson:"_id"`
	Total float64 `bson:"daily_total"`
	Count int64   `bson:"daily_sales"`
}

// Generate builds n random sales dated within the last 30 days before now.
func Generate(r *rand.Rand, now time.Time, n int) []Sale {
	sales := make([]Sale, n)
	for i := range sales {
		quantity := r.IntN(maxQuantity) + 1
		price := math.Round((minUnitPrice+r.Float64()*(maxUnitPrice-minUnitPrice))*100) / 100
		sales[i] = Sale{
			Product:   Products[r.IntN(len(Products))],
			Seller:    Sellers[r.IntN(len(Sellers))],
			Quantity:  quantity,
			UnitPrice: price,
			Total:     float64(quantity) * price,
			SoldAt:    now.AddDate(0, 0, -r.IntN(maxAgeDays+1)).Truncate(time.Millisecond),
		}
	}
	return sales
}

// Ledger runs sales aggregations against one collection.
type Ledger struct {
	coll  *mongo.Collection
	clock func() time.Time
	rand  *rand.Rand
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		l.clock = clock
	}
}

// WithRand sets the source used to generate sales.
func WithRand(r *rand.Rand) Option {
	return func(l *Ledger) {
		l.rand = r
	}
}

// New binds a ledger to coll.
func New(coll *mongo.Collection, opts ...Option) *Ledger {
	l := &Ledger{
		coll: coll,
		clock: func() time.Time {
			return time.Now().UTC()
		},
		rand: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reset removes every sale.
func (l *Ledger) Reset(ctx context.Context) (int64, error) {
	var res *mongo.DeleteResult
	err := l.observe("delete_many", func() (err error) {
		res, err = l.coll.DeleteMany(ctx, bson.M{})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reset sales: %w", err)
	}
	return res.DeletedCount, nil
}

// Record inserts sales and returns how many were stored.
func (l *Ledger) Record(ctx context.Context, sales []Sale) (int, error) {
	docs := make([]interface{}, len(sales))
	for i := range sales {
		docs[i] = sales[i]
	}

	var res *mongo.InsertManyResult
	err := l.observe("insert_many", func() (err error) {
		res, err = l.coll.InsertMany(ctx, docs)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("record sales: %w", err)
	}
	return len(res.InsertedIDs), nil
}

// ByProduct totals revenue and units per product, highest revenue first.
func (l *Ledger) ByProduct(ctx context.Context) ([]ProductTotal, error) {
	var rows []ProductTotal
	if err := l.aggregate(ctx, "by_product", byProductPipeline(), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// BySeller totals revenue and sale count per seller, highest revenue first.
func (l *Ledger) BySeller(ctx context.Context) ([]SellerTotal, error) {
	var rows []SellerTotal
	if err := l.aggregate(ctx, "by_seller", bySellerPipeline(), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// DailySince totals revenue and sale count per day for sales at or after
// since, oldest day first.
func (l *Ledger) DailySince(ctx context.Context, since time.Time) ([]DailyTotal, error) {
	var rows []DailyTotal
	if err := l.aggregate(ctx, "daily", dailyPipeline(since), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Run clears the collection, records n random sales and prints the three
// reports to out.
func (l *Ledger) Run(ctx context.Context, out io.Writer, n int) error {
	fmt.Fprintln(out, "Aggregation example")

	if _, err := l.Reset(ctx); err != nil {
		return err
	}
	now := l.clock()
	stored, err := l.Record(ctx, Generate(l.rand, now, n))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d sales generated\n", stored)

	products, err := l.ByProduct(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nSales by product:")
	for _, row := range products {
		fmt.Fprintf(out, "  - %s: %.2f (%d units)\n", row.Product, row.Total, row.Quantity)
	}

	sellers, err := l.BySeller(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nSales by seller:")
	for _, row := range sellers {
		fmt.Fprintf(out, "  - %s: %.2f (%d sales, average %.2f)\n", row.Seller, row.Total, row.Count, row.Average())
	}

	days, err := l.DailySince(ctx, now.Add(-RecentWindow))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nSales in the last 7 days:")
	for _, row := range days {
		fmt.Fprintf(out, "  - %s: %.2f (%d sales)\n", row.Day, row.Total, row.Count)
	}
	return nil
}

func byProductPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$product"},
			{Key: "total_sales", Value: bson.D{{Key: "$sum", Value: "$total"}}},
			{Key: "quantity_sold", Value: bson.D{{Key: "$sum", Value: "$quantity"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "total_sales", Value: -1}}}},
	}
}

func bySellerPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$seller"},
			{Key: "total_sales", Value: bson.D{{Key: "$sum", Value: "$total"}}},
			{Key: "sales_count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "total_sales", Value: -1}}}},
	}
}

func dailyPipeline(since time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "sold_at", Value: bson.D{{Key: "$gte", Value: since}}}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "$dateToString", Value: bson.D{
				{Key: "format", Value: "%Y-%m-%d"},
				{Key: "date", Value: "$sold_at"},
			}}}},
			{Key: "daily_total", Value: bson.D{{Key: "$sum", Value: "$total"}}},
			{Key: "daily_sales", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
}

func (l *Ledger) aggregate(ctx context.Context, op string, pipeline mongo.Pipeline, rows interface{}) error {
	err := l.observe(op, func() error {
		cursor, err := l.coll.Aggregate(ctx, pipeline)
		if err != nil {
			return err
		}
		return cursor.All(ctx, rows)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (l *Ledger) observe(op string, fn func() error) error {
	if l.coll == nil {
		return storage.ErrNotConnected
	}
	return storage.Observe(l.coll.Name(), op, fn)
}
