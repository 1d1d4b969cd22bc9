package store

// Outcome is the effect of one Ingest call.
type Outcome int

const (
	Duplicate Outcome = iota
	Inserted
	Updated
	Buffered
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Buffered:
		return "buffered"
	case Rejected:
		return "rejected"
	default:
		return "duplicate"
	}
}
