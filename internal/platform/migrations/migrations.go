package migrations

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Run applies the schema for the orders bounded context. Adapters do not automigrate.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	return db.AutoMigrate(
		&orderRecord{},
		&transactionRecord{},
		&idempotencyRecord{},
	)
}

// Order schema mirrors the orders Postgres store.
type orderRecord struct {
	ID             string          `gorm:"primaryKey;column:id;size:64"`
	Items          string          `gorm:"column:items;type:jsonb"`
	ItemSKUs       pq.StringArray  `gorm:"column:item_skus;type:text[];index:idx_orders_item_skus,type:gin"`
	Currency       string          `gorm:"column:currency;size:3"`
	ShippingAmount decimal.Decimal `gorm:"column:shipping_amount;type:numeric(18,4)"`
	TotalAmount    decimal.Decimal `gorm:"column:total_amount;type:numeric(18,4)"`
	Fulfillment    string          `gorm:"column:fulfillment_status;type:varchar(32);index"`
	Payment        string          `gorm:"column:payment_status;type:varchar(32);index"`
	TrackingNumber string          `gorm:"column:tracking_number"`
	InternalNotes  string          `gorm:"column:internal_notes;type:text"`
	Version        int64           `gorm:"column:version;not null;default:1"`
	CreatedAt      time.Time       `gorm:"column:created_at;index"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
}

func (orderRecord) TableName() string { return "orders" }

// Transaction schema mirrors the append-only payment attempt log.
type transactionRecord struct {
	ID                string          `gorm:"primaryKey;column:id;size:64"`
	OrderID           string          `gorm:"column:order_id;size:64;index:idx_order_transactions_order_created"`
	Method            string          `gorm:"column:method;type:varchar(32)"`
	Amount            decimal.Decimal `gorm:"column:amount;type:numeric(18,4)"`
	ProviderReference string          `gorm:"column:provider_reference"`
	Status            string          `gorm:"column:status;type:varchar(32)"`
	RawResponse       string          `gorm:"column:raw_response;type:text"`
	CreatedAt         time.Time       `gorm:"column:created_at;index:idx_order_transactions_order_created"`
}

func (transactionRecord) TableName() string { return "order_transactions" }

// Idempotency schema mirrors the create-and-pay key store.
type idempotencyRecord struct {
	Key         string    `gorm:"primaryKey;column:key;size:255"`
	RequestHash string    `gorm:"column:request_hash;size:128"`
	OrderID     string    `gorm:"column:order_id;size:64"`
	CreatedAt   time.Time `gorm:"column:created_at;index"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (idempotencyRecord) TableName() string { return "order_idempotency_keys" }
