package order

import "fmt"

// OrderState implements the state pattern for order lifecycle transitions.
//
//	PENDING -> PAID | SHIPPED | CANCELLED  (SHIPPED only when no gateway settles the order)
//	PAID    -> SHIPPED
//	SHIPPED -> COMPLETED
//
// COMPLETED and CANCELLED are terminal.
type OrderState interface {
	Status() Status
	On(o *Order, target Status) (OrderState, error)
}

func stateFor(s Status) (OrderState, error) {
	switch s {
	case StatusPending:
		return pendingState{}, nil
	case StatusPaid:
		return paidState{}, nil
	case StatusShipped:
		return shippedState{}, nil
	case StatusCompleted:
		return completedState{}, nil
	case StatusCancelled:
		return cancelledState{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

func illegal(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
}

type pendingState struct{}

func (pendingState) Status() Status { return StatusPending }

func (pendingState) On(o *Order, target Status) (OrderState, error) {
	switch target {
	case StatusPaid:
		return paidState{}, nil
	case StatusShipped:
		if o.PaymentMethod.SettledByGateway() {
			return nil, fmt.Errorf("%w: unpaid %s order cannot ship", ErrInvalidStateTransition, o.PaymentMethod)
		}
		return shippedState{}, nil
	case StatusCancelled:
		return cancelledState{}, nil
	}
	return nil, illegal(StatusPending, target)
}

type paidState struct{}

func (paidState) Status() Status { return StatusPaid }

func (paidState) On(_ *Order, target Status) (OrderState, error) {
	if target == StatusShipped {
		return shippedState{}, nil
	}
	return nil, illegal(StatusPaid, target)
}

type shippedState struct{}

func (shippedState) Status() Status { return StatusShipped }

func (shippedState) On(_ *Order, target Status) (OrderState, error) {
	if target == StatusCompleted {
		return completedState{}, nil
	}
	return nil, illegal(StatusShipped, target)
}

type completedState struct{}

func (completedState) Status() Status { return StatusCompleted }

func (completedState) On(_ *Order, target Status) (OrderState, error) {
	return nil, illegal(StatusCompleted, target)
}

type cancelledState struct{}

func (cancelledState) Status() Status { return StatusCancelled }

func (cancelledState) On(_ *Order, target Status) (OrderState, error) {
	return nil, illegal(StatusCancelled, target)
}
