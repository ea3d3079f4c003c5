package application

import (
	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/catalog"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/order"
)

func NewOrderConfirmation(o *order.Order, user *catalog.User) OrderConfirmation {
	c := OrderConfirmation{
		OrderID:       o.ID,
		UserID:        o.UserID,
		PaymentMethod: string(o.PaymentMethod),
		Total:         o.Total(),
		Lines:         make([]ConfirmationLine, 0, len(o.Items)),
	}
	if user != nil {
		c.Email = user.Email
		c.FullName = user.FullName
	}
	for _, it := range o.Items {
		c.Lines = append(c.Lines, ConfirmationLine{
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return c
}
