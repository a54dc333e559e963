package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Apurer/go-order-reconciler/internal/domains/orders/domain"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
)

var _ ports.Store = (*Store)(nil)

// Store persists orders and payment transactions in PostgreSQL using GORM.
// The schema is owned by internal/platform/migrations.
type Store struct {
	db *gorm.DB
}

// NewStore wires a PostgreSQL-backed store. Caller manages DB lifecycle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

type lineItemRecord struct {
	SKU       string          `json:"sku"`
	Quantity  int32           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// orderRecord maps the order aggregate to a relational table.
type orderRecord struct {
	ID             string          `gorm:"primaryKey;column:id;size:64"`
	Items          string          `gorm:"column:items;type:jsonb"`
	ItemSKUs       pq.StringArray  `gorm:"column:item_skus;type:text[]"`
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

// Create inserts a new order at version 1.
func (s *Store) Create(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	if order == nil {
		return nil, errors.New("order is nil")
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	record, err := toRecord(order)
	if err != nil {
		return nil, err
	}
	record.Version = 1
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ports.ErrAlreadyExists
		}
		return nil, err
	}
	return record.toDomain()
}

// Get fetches an order by identifier.
func (s *Store) Get(ctx context.Context, id string) (*domain.Order, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	var record orderRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ports.ErrNotFound
		}
		return nil, err
	}
	return record.toDomain()
}

// Update writes the order only when the stored version still matches.
func (s *Store) Update(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	if order == nil {
		return nil, errors.New("order is nil")
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	record, err := toRecord(order)
	if err != nil {
		return nil, err
	}
	result := s.db.WithContext(ctx).
		Model(&orderRecord{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(map[string]any{
			"items":              record.Items,
			"item_skus":          record.ItemSKUs,
			"currency":           record.Currency,
			"shipping_amount":    record.ShippingAmount,
			"total_amount":       record.TotalAmount,
			"fulfillment_status": record.Fulfillment,
			"payment_status":     record.Payment,
			"tracking_number":    record.TrackingNumber,
			"internal_notes":     record.InternalNotes,
			"updated_at":         record.UpdatedAt,
			"version":            gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := s.Get(ctx, order.ID); err != nil {
			return nil, err
		}
		return nil, ports.ErrConcurrentUpdate
	}
	saved := order.Clone()
	saved.Version = order.Version + 1
	return saved, nil
}

// List returns orders matching the filter, oldest first.
func (s *Store) List(ctx context.Context, filter ports.ListFilter) ([]*domain.Order, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).Model(&orderRecord{})
	if filter.Fulfillment != "" {
		query = query.Where("fulfillment_status = ?", string(filter.Fulfillment))
	}
	if filter.Payment != "" {
		query = query.Where("payment_status = ?", string(filter.Payment))
	}
	if filter.SKU != "" {
		query = query.Where("? = ANY(item_skus)", filter.SKU)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var records []orderRecord
	if err := query.Order("created_at ASC, id ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	orders := make([]*domain.Order, 0, len(records))
	for i := range records {
		order, err := records[i].toDomain()
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// AppendTransaction inserts a payment attempt; a known transaction id is ignored.
func (s *Store) AppendTransaction(ctx context.Context, tx domain.Transaction) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	if err := s.ensureOrder(ctx, tx.OrderID); err != nil {
		return err
	}
	record := toTransactionRecord(tx)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&record).Error
}

// ListTransactions returns the order's payment attempts.
func (s *Store) ListTransactions(ctx context.Context, orderID string) ([]domain.Transaction, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	if err := s.ensureOrder(ctx, orderID); err != nil {
		return nil, err
	}
	var records []transactionRecord
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	txs := make([]domain.Transaction, 0, len(records))
	for i := range records {
		txs = append(txs, records[i].toDomain())
	}
	return txs, nil
}

func (s *Store) ensureOrder(ctx context.Context, orderID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&orderRecord{}).Where("id = ?", orderID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (s *Store) ensureDB() error {
	if s == nil || s.db == nil {
		return errors.New("postgres order store not configured")
	}
	return nil
}

func toRecord(order *domain.Order) (orderRecord, error) {
	items := make([]lineItemRecord, 0, len(order.Items))
	skus := make(pq.StringArray, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, lineItemRecord{SKU: item.SKU, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
		skus = append(skus, item.SKU)
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return orderRecord{}, err
	}
	return orderRecord{
		ID:             order.ID,
		Items:          string(encoded),
		ItemSKUs:       skus,
		Currency:       order.Currency,
		ShippingAmount: order.ShippingAmount,
		TotalAmount:    order.TotalAmount,
		Fulfillment:    string(order.Fulfillment),
		Payment:        string(order.Payment),
		TrackingNumber: order.TrackingNumber,
		InternalNotes:  order.InternalNotes,
		Version:        order.Version,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
	}, nil
}

func (r orderRecord) toDomain() (*domain.Order, error) {
	var stored []lineItemRecord
	if err := json.Unmarshal([]byte(r.Items), &stored); err != nil {
		return nil, fmt.Errorf("decode items of order %s: %w", r.ID, err)
	}
	items := make([]domain.LineItem, 0, len(stored))
	for _, item := range stored {
		items = append(items, domain.LineItem{SKU: item.SKU, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	return &domain.Order{
		ID:             r.ID,
		Items:          items,
		Currency:       r.Currency,
		ShippingAmount: r.ShippingAmount,
		TotalAmount:    r.TotalAmount,
		Fulfillment:    domain.FulfillmentStatus(r.Fulfillment),
		Payment:        domain.PaymentStatus(r.Payment),
		TrackingNumber: r.TrackingNumber,
		InternalNotes:  r.InternalNotes,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		Version:        r.Version,
	}, nil
}

func toTransactionRecord(tx domain.Transaction) transactionRecord {
	return transactionRecord{
		ID:                tx.ID,
		OrderID:           tx.OrderID,
		Method:            string(tx.Method),
		Amount:            tx.Amount,
		ProviderReference: tx.ProviderReference,
		Status:            string(tx.Status),
		RawResponse:       string(tx.RawResponse),
		CreatedAt:         tx.CreatedAt,
	}
}

func (r transactionRecord) toDomain() domain.Transaction {
	var raw json.RawMessage
	if r.RawResponse != "" {
		raw = json.RawMessage(r.RawResponse)
	}
	return domain.Transaction{
		ID:                r.ID,
		OrderID:           r.OrderID,
		Method:            domain.Method(r.Method),
		Amount:            r.Amount,
		ProviderReference: r.ProviderReference,
		Status:            domain.TransactionStatus(r.Status),
		RawResponse:       raw,
		CreatedAt:         r.CreatedAt,
	}
}
