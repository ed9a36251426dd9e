// Package redis stores carts in Redis so several API replicas can share them.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/pharmacy-api/internal/domain/cart"
)

var (
	_ cart.Repository = (*CartRepository)(nil)
	_ cart.Viewer     = (*CartRepository)(nil)
)

const defaultPrefix = "pharmacy:cart:"

// CartRepository keeps one JSON document per customer. Every save refreshes
// the key TTL, so abandoned carts expire on their own.
type CartRepository struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
	group  singleflight.Group
}

// Option configures CartRepository.
type Option func(*CartRepository)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(r *CartRepository) { r.prefix = prefix }
}

// NewCartRepository returns a repository over client. A zero ttl disables
// expiry.
func NewCartRepository(client *goredis.Client, ttl time.Duration, opts ...Option) *CartRepository {
	r := &CartRepository{
		client: client,
		prefix: defaultPrefix,
		ttl:    ttl,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := goredis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

func (r *CartRepository) key(customerID string) string {
	return r.prefix + customerID
}

// Get implements cart.Repository. It always reads Redis so locked
// read-modify-write callers see the latest saved cart.
func (r *CartRepository) Get(ctx context.Context, customerID string) (*cart.Cart, error) {
	return r.fetch(ctx, customerID)
}

// View implements cart.Viewer. Concurrent views of the same cart share a
// single round trip; each caller still receives its own copy. The result
// must not be saved back.
func (r *CartRepository) View(ctx context.Context, customerID string) (*cart.Cart, error) {
	v, err, _ := r.group.Do(customerID, func() (any, error) {
		return r.fetch(ctx, customerID)
	})
	if err != nil {
		return nil, err
	}
	snap := v.(*cart.Cart).Snapshot()
	return &snap, nil
}

// Save implements cart.Repository. Views started before the write are
// detached so later views read the new value.
func (r *CartRepository) Save(ctx context.Context, c *cart.Cart) error {
	if err := r.client.Set(ctx, r.key(c.CustomerID), encodeCart(c), r.ttl).Err(); err != nil {
		return errors.Wrap(err, "save cart")
	}
	r.group.Forget(c.CustomerID)
	return nil
}

func (r *CartRepository) fetch(ctx context.Context, customerID string) (*cart.Cart, error) {
	raw, err := r.client.Get(ctx, r.key(customerID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, cart.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	c, err := decodeCart(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "decode cart %s", customerID)
	}
	return c, nil
}

// Ping reports whether Redis answers.
func (r *CartRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func encodeCart(c *cart.Cart) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("customer_id")
	e.Str(c.CustomerID)
	e.FieldStart("updated_at")
	e.Str(c.UpdatedAt.UTC().Format(time.RFC3339Nano))
	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range c.Lines {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(l.ProductID)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("unit_price")
		e.Str(l.UnitPrice.String())
		e.FieldStart("added_at")
		e.Str(l.AddedAt.UTC().Format(time.RFC3339Nano))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
	return e.Bytes()
}

// decodeCart reads a stored cart. Totals are recomputed rather than stored.
func decodeCart(raw []byte) (*cart.Cart, error) {
	c := &cart.Cart{}
	err := jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "customer_id":
			c.CustomerID, err = d.Str()
		case "updated_at":
			c.UpdatedAt, err = decodeTime(d)
		case "lines":
			err = d.Arr(func(d *jx.Decoder) error {
				l, err := decodeLine(d)
				if err != nil {
					return err
				}
				c.Lines = append(c.Lines, l)
				return nil
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.Recompute()
	return c, nil
}

func decodeLine(d *jx.Decoder) (cart.Line, error) {
	var l cart.Line
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "product_id":
			l.ProductID, err = d.Str()
		case "quantity":
			l.Quantity, err = d.Int()
		case "unit_price":
			var s string
			if s, err = d.Str(); err == nil {
				l.UnitPrice, err = decimal.NewFromString(s)
			}
		case "added_at":
			l.AddedAt, err = decodeTime(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	return l, err
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}
