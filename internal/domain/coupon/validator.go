package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Service validates coupon codes and records their use.
//
// Validation and redemption are separate so a coupon is only consumed once
// the order that used it has been persisted.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a coupon Service backed by repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Validate looks up code, checks its validity window and usage limit and
// computes the discount for lines. It does not consume a use.
func (s *Service) Validate(ctx context.Context, code string, lines []Line) (*Discount, error) {
	c, err := s.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if !c.ActiveAt(s.now()) {
		return nil, ErrCouponExpired
	}
	if c.Exhausted() {
		return nil, ErrUsageLimitReached
	}

	d, err := Calculate(c, lines)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Redeem consumes one use of code.
func (s *Service) Redeem(ctx context.Context, code string) error {
	if err := s.repo.IncrementUses(ctx, NormalizeCode(code)); err != nil {
		return errors.Wrapf(err, "redeem coupon %s", code)
	}
	return nil
}
