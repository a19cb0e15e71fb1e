package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/metal_ledger/config"
	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// UnitCorrectionWorkflow handles lots suspected of being entered in kilograms as grams.
// Suggestions change nothing; a reviewer has to confirm each one.
type UnitCorrectionWorkflow struct {
	Store  models.Store
	Logger *logrus.Logger
	Clock  func() time.Time
}

func NewUnitCorrectionWorkflow(store models.Store, logger *logrus.Logger) *UnitCorrectionWorkflow {
	return &UnitCorrectionWorkflow{Store: store, Logger: logger, Clock: utcNow}
}

// Suggest records a PENDING correction for every lot of a gram product whose quantity is
// below threshold and that has no open or confirmed correction yet.
func (w *UnitCorrectionWorkflow) Suggest(ctx context.Context, productId int, threshold decimal.Decimal) ([]models.UnitCorrection, error) {
	org, err := requireOrganization(ctx)
	if err != nil {
		return nil, err
	}
	if !threshold.IsPositive() {
		return nil, fmt.Errorf("%w: threshold must be positive", models.ErrValidation)
	}
	var out []models.UnitCorrection
	err = w.Store.WithTx(ctx, func(tx models.Store) error {
		product, err := tx.GetProduct(ctx, productId, false)
		if err != nil {
			return err
		}
		if product.Unit != models.ProductUnitGrams {
			return fmt.Errorf("%w: product %d is not stocked in grams", models.ErrValidation, product.ID)
		}
		existing, err := tx.ListUnitCorrections(ctx, productId, "")
		if err != nil {
			return err
		}
		handled := map[int]bool{}
		for _, c := range existing {
			if c.Status != models.UnitCorrectionStatusRejected {
				handled[c.InventoryLotId] = true
			}
		}
		lots, err := tx.ListLotsByProduct(ctx, productId)
		if err != nil {
			return err
		}
		for _, lot := range lots {
			if handled[lot.ID] || !lot.Quantity.LessThan(threshold) {
				continue
			}
			c := models.UnitCorrection{
				OrganizationId:    org,
				ProductId:         productId,
				InventoryLotId:    lot.ID,
				Threshold:         threshold,
				OriginalQuantity:  lot.Quantity,
				CorrectedQuantity: utils.RoundQty(lot.Quantity.Mul(models.GramsPerKilogram)),
				Status:            models.UnitCorrectionStatusPending,
			}
			if err := tx.CreateUnitCorrection(ctx, &c); err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (w *UnitCorrectionWorkflow) List(ctx context.Context, productId int, status models.UnitCorrectionStatus) ([]models.UnitCorrection, error) {
	if _, err := requireOrganization(ctx); err != nil {
		return nil, err
	}
	return w.Store.ListUnitCorrections(ctx, productId, status)
}

// Confirm multiplies the lot quantity by 1000 and appends the ADJUSTMENT that keeps the
// ledger replay equal to the new remaining quantity.
func (w *UnitCorrectionWorkflow) Confirm(ctx context.Context, correctionId int, reviewer string) (*models.UnitCorrection, error) {
	org, err := requireOrganization(ctx)
	if err != nil {
		return nil, err
	}
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return nil, fmt.Errorf("%w: reviewer is required", models.ErrValidation)
	}

	var c *models.UnitCorrection
	err = w.Store.WithTx(ctx, func(tx models.Store) error {
		var err error
		c, err = w.pending(ctx, tx, correctionId)
		if err != nil {
			return err
		}
		lot, err := tx.GetInventoryLot(ctx, c.InventoryLotId, true)
		if err != nil {
			return err
		}
		if !lot.Quantity.Equal(c.OriginalQuantity) {
			return fmt.Errorf("%w: lot %d quantity changed since the suggestion", models.ErrValidation, lot.ID)
		}
		now := w.Clock()
		delta := utils.RoundQty(lot.Quantity.Mul(models.GramsPerKilogram.Sub(decimal.NewFromInt(1))))
		lot.Quantity = c.CorrectedQuantity
		m, err := adjustLotTx(ctx, tx, w.Logger, lot, lotChange{
			org:          org,
			delta:        delta,
			movementType: models.StockMovementTypeAdjustment,
			documentRef:  fmt.Sprintf("UNIT-CORRECTION:%d", c.ID),
			note:         "kilograms entered as grams, confirmed by " + reviewer,
			date:         now,
		})
		if err != nil {
			return err
		}
		mid := m.ID
		c.Status = models.UnitCorrectionStatusConfirmed
		c.ReviewedBy = &reviewer
		c.ReviewedAt = &now
		c.MovementId = &mid
		if err := tx.SaveUnitCorrection(ctx, c); err != nil {
			return err
		}
		rec, err := models.NewOutboxRecord(ctx, org, now, models.OutboxReferenceLot, lot.ID, models.OutboxActionUnitCorrectionConfirmed, c)
		if err != nil {
			return err
		}
		return tx.EnqueueOutbox(ctx, rec)
	})
	if err != nil {
		config.LogError(w.Logger, "unitCorrectionWorkflow.go", "Confirm", "WithTx", correctionId, err)
		return nil, err
	}
	return c, nil
}

func (w *UnitCorrectionWorkflow) Reject(ctx context.Context, correctionId int, reviewer string) (*models.UnitCorrection, error) {
	if _, err := requireOrganization(ctx); err != nil {
		return nil, err
	}
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return nil, fmt.Errorf("%w: reviewer is required", models.ErrValidation)
	}
	var c *models.UnitCorrection
	err := w.Store.WithTx(ctx, func(tx models.Store) error {
		var err error
		c, err = w.pending(ctx, tx, correctionId)
		if err != nil {
			return err
		}
		now := w.Clock()
		c.Status = models.UnitCorrectionStatusRejected
		c.ReviewedBy = &reviewer
		c.ReviewedAt = &now
		return tx.SaveUnitCorrection(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (w *UnitCorrectionWorkflow) pending(ctx context.Context, tx models.Store, id int) (*models.UnitCorrection, error) {
	c, err := tx.GetUnitCorrection(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if c.Status != models.UnitCorrectionStatusPending {
		return nil, fmt.Errorf("%w: unit correction %d is %s", models.ErrInvalidStatusTransition, c.ID, c.Status)
	}
	return c, nil
}
