// Package catalog is the e-commerce example: a product collection queried by
// category and price range, with stock movements, promotions and a low-stock
// report expressed as MongoDB operators.
package catalog

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/eugenenazirov/mongo-crud/internal/storage"
)

const (
	// Database is the database the example runs against.
	Database = "ecommerce_db"
	// Collection holds product documents.
	Collection = "products"

	// DiscountStockThreshold is the stock level above which products go on promotion.
	DiscountStockThreshold = 50
	// DiscountPercent is the promotion discount.
	DiscountPercent = 10
	// LowStockThreshold is the stock level below which products are reported.
	LowStockThreshold = 30
)

// Product is a document of the products collection.
type Product struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Name        string             `bson:"name"`
	Category    string             `bson:"category"`
	Price       float64            `bson:"price"`
	Stock       int                `bson:"stock"`
	Description string             `bson:"description"`
	Active      bool               `bson:"active"`
	CreatedAt   time.Time          `bson:"created_at"`
	LastSale    *time.Time         `bson:"last_sale,omitempty"`
	Discount    int                `bson:"discount,omitempty"`
	Promotion   bool               `bson:"promotion,omitempty"`
}

// DiscountedPrice applies the product discount to its price.
func (p Product) DiscountedPrice() float64 {
	return p.Price * (1 - float64(p.Discount)/100)
}

// SeedProducts returns the sample catalog stamped with createdAt.
func SeedProducts(createdAt time.Time) []Product {
	return []Product{
		{Name: "Samsung Galaxy Smartphone", Category: "Electronics", Price: 1299.99, Stock: 50, Description: "Smartphone with 128GB of storage", Active: true, CreatedAt: createdAt},
		{Name: "Dell Inspiron Notebook", Category: "Computers", Price: 2499.99, Stock: 25, Description: "Notebook with Intel i5 and 8GB RAM", Active: true, CreatedAt: createdAt},
		{Name: "Bluetooth Headphones", Category: "Accessories", Price: 199.99, Stock: 100, Description: "Wireless headphones with noise cancelling", Active: true, CreatedAt: createdAt},
		{Name: "Basic T-Shirt", Category: "Clothing", Price: 29.99, Stock: 200, Description: "100% cotton t-shirt", Active: true, CreatedAt: createdAt},
	}
}

// Catalog runs product queries against one collection.
type Catalog struct {
	coll  *mongo.Collection
	clock func() time.Time
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithClock overrides the time source used for created_at and last_sale.
func WithClock(clock func() time.Time) Option {
	return func(c *Catalog) {
		c.clock = clock
	}
}

// New binds a catalog to coll.
func New(coll *mongo.Collection, opts ...Option) *Catalog {
	c := &Catalog{
		coll: coll,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reset removes every product.
func (c *Catalog) Reset(ctx context.Context) (int64, error) {
	var res *mongo.DeleteResult
	err := c.observe("delete_many", func() (err error) {
		res, err = c.coll.DeleteMany(ctx, bson.M{})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reset products: %w", err)
	}
	return res.DeletedCount, nil
}

// Seed inserts products and returns how many were stored.
func (c *Catalog) Seed(ctx context.Context, products []Product) (int, error) {
	docs := make([]interface{}, len(products))
	for i := range products {
		docs[i] = products[i]
	}

	var res *mongo.InsertManyResult
	err := c.observe("insert_many", func() (err error) {
		res, err = c.coll.InsertMany(ctx, docs)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("seed products: %w", err)
	}
	return len(res.InsertedIDs), nil
}

// ByCategory lists the products of one category.
func (c *Catalog) ByCategory(ctx context.Context, category string) ([]Product, error) {
	return c.find(ctx, "find_by_category", bson.M{"category": category})
}

// PriceRange lists products priced within [low, high].
func (c *Catalog) PriceRange(ctx context.Context, low, high float64) ([]Product, error) {
	return c.find(ctx, "find_by_price", bson.M{"price": bson.M{"$gte": low, "$lte": high}})
}

// RecordSale takes quantity units out of stock and stamps last_sale.
// It reports whether a product with that name exists.
func (c *Catalog) RecordSale(ctx context.Context, name string, quantity int) (bool, error) {
	update := bson.M{
		"$inc": bson.M{"stock": -quantity},
		"$set": bson.M{"last_sale": c.clock().Truncate(time.Millisecond)},
	}

	var res *mongo.UpdateResult
	err := c.observe("record_sale", func() (err error) {
		res, err = c.coll.UpdateOne(ctx, bson.M{"name": name}, update)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("record sale of %q: %w", name, err)
	}
	return res.MatchedCount > 0, nil
}

// ApplyDiscount puts every product with stock above minStock on promotion and
// returns the number of products modified.
func (c *Catalog) ApplyDiscount(ctx context.Context, minStock, percent int) (int64, error) {
	filter := bson.M{"stock": bson.M{"$gt": minStock}}
	update := bson.M{"$set": bson.M{"discount": percent, "promotion": true}}

	var res *mongo.UpdateResult
	err := c.observe("apply_discount", func() (err error) {
		res, err = c.coll.UpdateMany(ctx, filter, update)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("apply discount: %w", err)
	}
	return res.ModifiedCount, nil
}

// Promotions lists products currently on promotion.
func (c *Catalog) Promotions(ctx context.Context) ([]Product, error) {
	return c.find(ctx, "find_promotions", bson.M{"promotion": true})
}

// LowStock lists products with fewer than below units in stock.
func (c *Catalog) LowStock(ctx context.Context, below int) ([]Product, error) {
	return c.find(ctx, "find_low_stock", bson.M{"stock": bson.M{"$lt": below}})
}

// Run clears the collection, seeds the sample catalog and walks through every
// query, writing a report to out.
func (c *Catalog) Run(ctx context.Context, out io.Writer) error {
	fmt.Fprintln(out, "E-commerce example")

	if _, err := c.Reset(ctx); err != nil {
		return err
	}
	n, err := c.Seed(ctx, SeedProducts(c.clock().Truncate(time.Millisecond)))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d products created\n", n)

	electronics, err := c.ByCategory(ctx, "Electronics")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nProducts in category Electronics:")
	for _, p := range electronics {
		fmt.Fprintf(out, "  - %s: %.2f\n", p.Name, p.Price)
	}

	inRange, err := c.PriceRange(ctx, 100, 500)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nProducts priced between 100 and 500:")
	for _, p := range inRange {
		fmt.Fprintf(out, "  - %s: %.2f\n", p.Name, p.Price)
	}

	fmt.Fprintln(out, "\nRecording a sale:")
	if _, err := c.RecordSale(ctx, "Samsung Galaxy Smartphone", 5); err != nil {
		return err
	}
	fmt.Fprintln(out, "  - 5 smartphones sold")

	fmt.Fprintf(out, "\nApplying a discount to products with stock above %d:\n", DiscountStockThreshold)
	discounted, err := c.ApplyDiscount(ctx, DiscountStockThreshold, DiscountPercent)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  - %d products on promotion\n", discounted)

	promos, err := c.Promotions(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nProducts on promotion:")
	for _, p := range promos {
		fmt.Fprintf(out, "  - %s: %.2f -> %.2f\n", p.Name, p.Price, p.DiscountedPrice())
	}

	low, err := c.LowStock(ctx, LowStockThreshold)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nProducts with stock below %d:\n", LowStockThreshold)
	for _, p := range low {
		fmt.Fprintf(out, "  - %s: %d units\n", p.Name, p.Stock)
	}
	return nil
}

func (c *Catalog) find(ctx context.Context, op string, filter bson.M) ([]Product, error) {
	var products []Product
	err := c.observe(op, func() error {
		cursor, err := c.coll.Find(ctx, filter)
		if err != nil {
			return err
		}
		return cursor.All(ctx, &products)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return products, nil
}

func (c *Catalog) observe(op string, fn func() error) error {
	if c.coll == nil {
		return storage.ErrNotConnected
	}
	return storage.Observe(c.coll.Name(), op, fn)
}
