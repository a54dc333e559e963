package application

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	types "github.com/Apurer/go-order-reconciler/internal/domains/orders/application/types"
)

type normalizedCreateOrder struct {
	Items    []normalizedLineItem `json:"items"`
	Shipping string               `json:"shipping"`
	Currency string               `json:"currency"`
	Method   string               `json:"method"`
}

type normalizedLineItem struct {
	SKU       string `json:"sku"`
	Quantity  int32  `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

// FingerprintCreateOrder builds a deterministic hash of the create-and-pay payload (excluding the idempotency key).
func FingerprintCreateOrder(input types.CreateOrderInput) (string, error) {
	payload, err := json.Marshal(normalizeCreateOrder(input))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func normalizeCreateOrder(input types.CreateOrderInput) normalizedCreateOrder {
	items := make([]normalizedLineItem, 0, len(input.Items))
	for _, item := range input.Items {
		items = append(items, normalizedLineItem{
			SKU:       strings.TrimSpace(item.SKU),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.String(),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].SKU == items[j].SKU {
			return items[i].Quantity < items[j].Quantity
		}
		return items[i].SKU < items[j].SKU
	})
	return normalizedCreateOrder{
		Items:    items,
		Shipping: input.ShippingAmount.String(),
		Currency: strings.ToUpper(strings.TrimSpace(input.Currency)),
		Method:   strings.ToLower(strings.TrimSpace(input.Method)),
	}
}
