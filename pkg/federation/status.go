package federation

// ExchangeStatus tracks a verification exchange from either side.
type ExchangeStatus string

const (
	StatusPending    ExchangeStatus = "PENDING"
	StatusInProgress ExchangeStatus = "IN_PROGRESS"
	StatusVerified   ExchangeStatus = "VERIFIED"
	StatusRejected   ExchangeStatus = "REJECTED"
	// StatusTimeout is reserved for transports with delivery deadlines.
	StatusTimeout ExchangeStatus = "TIMEOUT"
)

// Terminal reports whether no further transition is expected.
func (s ExchangeStatus) Terminal() bool {
	return s == StatusVerified || s == StatusRejected || s == StatusTimeout
}
