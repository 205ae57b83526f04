package enums

// ReservationState records what a line item currently holds in the stock ledger.
type ReservationState string

const (
	// ReservationStateNone marks lines that never reserve (print-on-demand).
	ReservationStateNone      ReservationState = "none"
	ReservationStateHeld      ReservationState = "held"
	ReservationStateReleased  ReservationState = "released"
	ReservationStateCommitted ReservationState = "committed"
)

func (r ReservationState) String() string {
	return string(r)
}
