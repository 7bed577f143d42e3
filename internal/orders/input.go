package orders

import (
	"strings"
	"unicode/utf8"
)

const (
	maxCustomerNameLen = 100
	maxNotesLen        = 500
)

type ItemInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderInput struct {
	CustomerName string      `json:"customerName"`
	UserIDs      []string    `json:"userIds"`
	Items        []ItemInput `json:"items"`
	Notes        string      `json:"notes,omitempty"`

	// IdempotencyKey is optional; a repeated key returns the order created first.
	IdempotencyKey string `json:"-"`
}

// Validate checks the request shape only; it never touches the store.
func (in CreateOrderInput) Validate() error {
	name := strings.TrimSpace(in.CustomerName)
	if name == "" {
		return validationf("customerName is required")
	}
	if utf8.RuneCountInString(name) > maxCustomerNameLen {
		return validationf("customerName must be at most %d characters", maxCustomerNameLen)
	}

	if len(in.UserIDs) == 0 {
		return validationf("userIds must contain at least one user id")
	}
	seen := make(map[string]struct{}, len(in.UserIDs))
	for i, id := range in.UserIDs {
		if strings.TrimSpace(id) == "" {
			return validationf("userIds[%d] is blank", i)
		}
		if _, dup := seen[id]; dup {
			return validationf("duplicate user id %s", id)
		}
		seen[id] = struct{}{}
	}

	if len(in.Items) == 0 {
		return validationf("items must contain at least one item")
	}
	for i, it := range in.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return validationf("items[%d].productId is required", i)
		}
		if it.Quantity < 1 {
			return validationf("items[%d].quantity must be at least 1", i)
		}
	}

	if utf8.RuneCountInString(in.Notes) > maxNotesLen {
		return validationf("notes must be at most %d characters", maxNotesLen)
	}
	return nil
}
