// Package seed reads the catalog seed file shared by cmd/seed-db and the
// memory storage mode.
package seed

import (
	"io"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/pharmacy-api/internal/domain/auth"
	"github.com/xenking/pharmacy-api/internal/domain/catalog"
	"github.com/xenking/pharmacy-api/internal/domain/coupon"
)

// Data is the content of a seed file.
type Data struct {
	Products []catalog.Product
	Coupons  []coupon.Coupon
	APIKeys  []APIKey
}

// APIKey is a raw key from the seed file. Only its hash is ever stored.
type APIKey struct {
	ID         string
	Key        string
	Name       string
	CustomerID string
	Scopes     []string
}

// Info returns the stored form of k.
func (k APIKey) Info(pepper []byte) auth.APIKeyInfo {
	return auth.APIKeyInfo{
		ID:         k.ID,
		KeyHash:    auth.HashKey(pepper, k.Key),
		Name:       k.Name,
		CustomerID: k.CustomerID,
		Scopes:     k.Scopes,
	}
}

// ReadFile reads a seed file from path.
func ReadFile(path string) (*Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open seed file")
	}
	defer func() { _ = f.Close() }()
	return Read(f)
}

// Read decodes a seed document:
//
//	{"products": [...], "coupons": [...], "apiKeys": [...]}
//
// A bare array is accepted as a product list.
func Read(r io.Reader) (*Data, error) {
	d := jx.Decode(r, 4096)
	data := &Data{}

	var err error
	switch d.Next() {
	case jx.Array:
		data.Products, err = decodeProducts(d)
	case jx.Object:
		err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "products":
				data.Products, err = decodeProducts(d)
			case "coupons":
				data.Coupons, err = decodeCoupons(d)
			case "apiKeys":
				data.APIKeys, err = decodeAPIKeys(d)
			default:
				return d.Skip()
			}
			if err != nil {
				return errors.Wrap(err, string(key))
			}
			return nil
		})
	default:
		return nil, errors.New("seed document must be an object or array")
	}
	if err != nil {
		return nil, errors.Wrap(err, "decode seed")
	}
	return data, validate(data)
}

func validate(data *Data) error {
	seen := make(map[string]struct{}, len(data.Products))
	for _, p := range data.Products {
		if p.ID == "" {
			return errors.New("product without id")
		}
		if _, ok := seen[p.ID]; ok {
			return errors.Errorf("duplicate product %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.Price.IsNegative() || p.Stock.Quantity < 0 {
			return errors.Errorf("product %q: negative price or stock", p.ID)
		}
	}
	for _, c := range data.Coupons {
		if !c.Kind.Valid() {
			return errors.Errorf("coupon %q: unknown kind %q", c.Code, c.Kind)
		}
	}
	for _, k := range data.APIKeys {
		if k.Key == "" {
			return errors.Errorf("api key %q without key", k.ID)
		}
	}
	return nil
}

func decodeProducts(d *jx.Decoder) ([]catalog.Product, error) {
	var out []catalog.Product
	err := d.Arr(func(d *jx.Decoder) error {
		p := catalog.Product{IsActive: true}
		err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "id":
				p.ID, err = d.Str()
			case "name":
				p.Name, err = d.Str()
			case "category":
				p.Category, err = d.Str()
			case "price":
				p.Price, err = decodeDecimal(d)
			case "isActive":
				p.IsActive, err = d.Bool()
			case "prescriptionRequired":
				p.PrescriptionRequired, err = d.Bool()
			case "stock":
				err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					var err error
					switch string(key) {
					case "quantity":
						p.Stock.Quantity, err = d.Int()
					case "minStock":
						p.Stock.MinStock, err = d.Int()
					case "maxStock":
						p.Stock.MaxStock, err = d.Int()
					default:
						err = d.Skip()
					}
					return err
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
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func decodeCoupons(d *jx.Decoder) ([]coupon.Coupon, error) {
	var out []coupon.Coupon
	err := d.Arr(func(d *jx.Decoder) error {
		var c coupon.Coupon
		err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "code":
				var code string
				code, err = d.Str()
				c.Code = coupon.NormalizeCode(code)
			case "kind":
				var kind string
				kind, err = d.Str()
				c.Kind = coupon.Kind(kind)
			case "value":
				c.Value, err = decodeDecimal(d)
			case "description":
				c.Description, err = d.Str()
			case "minItems":
				c.MinItems, err = d.Int()
			case "minSubtotal":
				c.MinSubtotal, err = decodeDecimal(d)
			case "maxDiscount":
				c.MaxDiscount, err = decodeDecimal(d)
			case "maxUses":
				c.MaxUses, err = d.Int()
			case "validFrom":
				c.ValidFrom, err = decodeTime(d)
			case "validUntil":
				c.ValidUntil, err = decodeTime(d)
			default:
				err = d.Skip()
			}
			if err != nil {
				return errors.Wrap(err, string(key))
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

func decodeAPIKeys(d *jx.Decoder) ([]APIKey, error) {
	var out []APIKey
	err := d.Arr(func(d *jx.Decoder) error {
		var k APIKey
		err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "id":
				k.ID, err = d.Str()
			case "key":
				k.Key, err = d.Str()
			case "name":
				k.Name, err = d.Str()
			case "customerId":
				k.CustomerID, err = d.Str()
			case "scopes":
				err = d.Arr(func(d *jx.Decoder) error {
					s, err := d.Str()
					k.Scopes = append(k.Scopes, s)
					return err
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
			return err
		}
		out = append(out, k)
		return nil
	})
	return out, err
}

// decodeDecimal accepts both JSON numbers and numeric strings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	}
}

func decodeTime(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
