package store

import (
	"time"

	"github.com/example/storefront/pkg/models"
)

// ApplyItemUpdate runs the item state machine on o in place. It returns a
// *NotFoundError when the reference matches no line.
func ApplyItemUpdate(o *models.Order, upd ItemUpdate, now time.Time) (*ItemResult, error) {
	i := upd.Ref.Find(o)
	if i < 0 {
		id := upd.Ref.ProductID
		if upd.Ref.ByIndex {
			id = int64(upd.Ref.Index)
		}
		return nil, &NotFoundError{Entity: "order item", ID: id}
	}
	wasCompleted := o.IsCompleted
	already := o.ApplyItemStatus(i, upd.Status, now)
	return &ItemResult{
		Order:           o,
		Item:            o.Items[i],
		AlreadyTerminal: already,
		Completed:       !wasCompleted && o.IsCompleted,
	}, nil
}

// ApplyOrderStatus moves o through the staff workflow. It reports whether the
// status actually changed.
func ApplyOrderStatus(o *models.Order, next models.OrderStatus) (bool, error) {
	if !next.Valid() || next == models.StatusCompleted {
		return false, invalid("status", "unknown order status "+string(next))
	}
	if !o.Status.CanTransitionTo(next) {
		return false, invalid("status", "cannot move order from "+string(o.Status)+" to "+string(next))
	}
	if o.Status == next {
		return false, nil
	}
	o.Status = next
	return true, nil
}
