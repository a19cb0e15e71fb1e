package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// QuotationProvider is the market-data boundary: the price per gram of a metal on a date.
type QuotationProvider interface {
	GetQuotation(ctx context.Context, metalType models.MetalType, date time.Time) (*models.Quotation, error)
}

// StoreQuotationProvider reads quotations synced into the database by the market-data job.
type StoreQuotationProvider struct {
	Store models.Store
}

func (p StoreQuotationProvider) GetQuotation(ctx context.Context, metalType models.MetalType, date time.Time) (*models.Quotation, error) {
	q, err := p.Store.FindQuotation(ctx, metalType, utils.DateOnly(date))
	if err != nil {
		return nil, err
	}
	// a zero buy price is a placeholder row, not a usable quotation
	if !q.BuyPrice.IsPositive() {
		return nil, fmt.Errorf("%w: %s on %s has no buy price", models.ErrQuotationNotFound, metalType, date.Format(utils.DateLayout))
	}
	return q, nil
}

// QuotationCache keeps past-date quotations in Redis with no expiry. Same-day and future
// quotations may still change and always go to the next provider.
type QuotationCache struct {
	Next   QuotationProvider
	Redis  redis.UniversalClient
	Logger *logrus.Logger
	Clock  func() time.Time
}

func NewQuotationCache(next QuotationProvider, rdb redis.UniversalClient, logger *logrus.Logger) *QuotationCache {
	return &QuotationCache{Next: next, Redis: rdb, Logger: logger, Clock: utcNow}
}

func quotationCacheKey(org string, metalType models.MetalType, date time.Time) string {
	return fmt.Sprintf("quotation:%s:%s:%s", org, metalType, date.Format(utils.DateLayout))
}

func (c *QuotationCache) cacheable(date time.Time) bool {
	return c.Redis != nil && date.Before(utils.DateOnly(c.Clock()))
}

func (c *QuotationCache) GetQuotation(ctx context.Context, metalType models.MetalType, date time.Time) (*models.Quotation, error) {
	org, err := requireOrganization(ctx)
	if err != nil {
		return nil, err
	}
	date = utils.DateOnly(date)
	if !c.cacheable(date) {
		return c.Next.GetQuotation(ctx, metalType, date)
	}

	key := quotationCacheKey(org, metalType, date)
	raw, err := c.Redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var q models.Quotation
		if jerr := json.Unmarshal(raw, &q); jerr == nil {
			return &q, nil
		}
		c.warn(key, "discarding undecodable cached quotation")
	case !errors.Is(err, redis.Nil):
		c.warn(key, "quotation cache read failed: "+err.Error())
	}

	q, err := c.Next.GetQuotation(ctx, metalType, date)
	if err != nil {
		return nil, err
	}
	if data, jerr := json.Marshal(q); jerr == nil {
		if serr := c.Redis.Set(ctx, key, data, 0).Err(); serr != nil {
			c.warn(key, "quotation cache write failed: "+serr.Error())
		}
	}
	return q, nil
}

func (c *QuotationCache) warn(key string, msg string) {
	if c.Logger == nil {
		return
	}
	c.Logger.WithFields(logrus.Fields{
		"field": "QuotationCache",
		"key":   key,
	}).Warn(msg)
}
