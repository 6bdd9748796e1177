package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// IdempotencyRecord binds a (scope, key) pair to the first result produced for it.
type IdempotencyRecord struct {
	Scope     string          `gorm:"column:scope;primaryKey"`
	Key       string          `gorm:"column:key;primaryKey"`
	OrderID   *uuid.UUID      `gorm:"column:order_id;type:uuid"`
	Result    json.RawMessage `gorm:"column:result;type:jsonb;not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}
