package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderView is the response snapshot. Which optional parts are filled depends on the operation
// that produced it: creation, transition, or lookup.
type OrderView struct {
	ID            string            `json:"id"`
	CustomerName  string            `json:"customerName"`
	CustomerEmail string            `json:"customerEmail,omitempty"`
	TotalAmount   decimal.Decimal   `json:"totalAmount"`
	Status        Status            `json:"status"`
	Notes         string            `json:"notes,omitempty"`
	CreatedAt     *time.Time        `json:"createdAt,omitempty"`
	UpdatedAt     *time.Time        `json:"updatedAt,omitempty"`
	Users         []ParticipantView `json:"users,omitempty"`
	Items         []ItemView        `json:"items"`
}

type ParticipantView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

type ItemView struct {
	ProductID   string          `json:"productId,omitempty"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TotalPrice  decimal.Decimal `json:"totalPrice"`
}

type StatusView struct {
	OrderID   string    `json:"orderId"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreatedView is returned by order creation.
func CreatedView(o *Order) *OrderView {
	created := o.CreatedAt
	v := baseView(o, false)
	v.CreatedAt = &created
	v.Users = participantViews(o.Participants)
	return v
}

// TransitionView is returned by pay/prepare/deliver/cancel.
func TransitionView(o *Order) *OrderView {
	updated := o.UpdatedAt
	v := baseView(o, false)
	v.UpdatedAt = &updated
	return v
}

// DetailView is returned by lookup and listing.
func DetailView(o *Order) *OrderView {
	created, updated := o.CreatedAt, o.UpdatedAt
	v := baseView(o, true)
	v.CustomerEmail = o.CustomerEmail
	v.Notes = o.Notes
	v.CreatedAt = &created
	v.UpdatedAt = &updated
	v.Users = participantViews(o.Participants)
	return v
}

func baseView(o *Order, withProductID bool) *OrderView {
	v := &OrderView{
		ID:           o.ID,
		CustomerName: o.CustomerName,
		TotalAmount:  o.TotalAmount,
		Status:       o.Status,
		Items:        make([]ItemView, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		iv := ItemView{
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			TotalPrice:  it.TotalPrice,
		}
		if withProductID {
			iv.ProductID = it.ProductID
		}
		v.Items = append(v.Items, iv)
	}
	return v
}

func participantViews(users []User) []ParticipantView {
	if len(users) == 0 {
		return nil
	}
	out := make([]ParticipantView, 0, len(users))
	for _, u := range users {
		out = append(out, ParticipantView{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role})
	}
	return out
}
