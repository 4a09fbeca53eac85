package order

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusShipped   Status = "SHIPPED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// validNext encodes the order lifecycle. COMPLETED and CANCELLED are terminal.
var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusShipped: true, StatusCancelled: true},
	StatusShipped:   {StatusCompleted: true, StatusCancelled: true},
	StatusCompleted: {},
	StatusCancelled: {},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// IsTerminal reports whether no further transition is permitted.
func (s Status) IsTerminal() bool {
	return len(validNext[s]) == 0
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus validates a status received from a client.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusShipped, StatusCompleted, StatusCancelled:
		return Status(s), nil
	default:
		return "", ErrInvalidTransition
	}
}
