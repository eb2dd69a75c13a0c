package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/common"
)

// CompareAndSwap writes updates to the row identified by id only if its
// version column still equals version, and bumps the version. A row that
// moved on reports ErrConcurrencyConflict. model must be an empty pointer
// of the target type, e.g. &models.Order{}.
func CompareAndSwap(tx *gorm.DB, model interface{}, id uuid.UUID, version int64, updates map[string]interface{}) error {
	updates["version"] = version + 1
	updates["updated_at"] = time.Now()

	res := tx.Model(model).Where("id = ? AND version = ?", id, version).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("versioned update of %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s changed since read", common.ErrConcurrencyConflict, id)
	}
	return nil
}
