package models

import "time"

// NextItemStatus applies a requested status to a line.
//
// Delivered is terminal: once reached, every request reports alreadyTerminal and
// leaves the line alone. Requesting not_found toggles between not_found and
// unresolved so a single control can mark and undo. Any other request clears.
func NextItemStatus(current, requested ItemStatus) (next ItemStatus, alreadyTerminal bool) {
	if current == ItemDelivered {
		return current, true
	}
	switch requested {
	case ItemDelivered:
		return ItemDelivered, false
	case ItemNotFound:
		if current == ItemNotFound {
			return ItemUnresolved, false
		}
		return ItemNotFound, false
	default:
		return ItemUnresolved, false
	}
}

// ApplyItemStatus transitions line i and re-derives order completion.
// The returned flag is true when the line was already delivered and nothing changed.
func (o *Order) ApplyItemStatus(i int, requested ItemStatus, now time.Time) (alreadyTerminal bool) {
	next, terminal := NextItemStatus(o.Items[i].Status, requested)
	if terminal {
		return true
	}
	o.Items[i].Status = next
	o.ResolveCompletion(now)
	return false
}

// AllResolved reports whether no line remains unresolved.
func (o *Order) AllResolved() bool {
	for _, it := range o.Items {
		if !it.Status.Resolved() {
			return false
		}
	}
	return len(o.Items) > 0
}

// ResolveCompletion closes the order once every line is delivered or not found.
// It returns true when this call completed the order.
func (o *Order) ResolveCompletion(now time.Time) bool {
	if !o.AllResolved() {
		return false
	}
	o.Status = StatusCompleted
	if o.IsCompleted {
		return false
	}
	o.MarkCompleted(now)
	return true
}

func (o *Order) MarkCompleted(now time.Time) {
	o.Status = StatusCompleted
	o.IsCompleted = true
	t := now.UTC()
	o.CompletedAt = &t
}

var workflowRank = map[OrderStatus]int{
	StatusNew:            0,
	StatusAccepted:       1,
	StatusOutForDelivery: 2,
	StatusDelivered:      3,
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusNew, StatusAccepted, StatusOutForDelivery, StatusDelivered, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether staff may move an order from s to next.
// The workflow only moves forward; cancelled is reachable until the order is
// delivered, cancelled or completed. Completed is never set by staff.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusDelivered, StatusCancelled, StatusCompleted:
		return false
	}
	if next == StatusCancelled {
		return true
	}
	from, ok := workflowRank[s]
	if !ok {
		return false
	}
	to, ok := workflowRank[next]
	if !ok {
		return false
	}
	return to > from
}
