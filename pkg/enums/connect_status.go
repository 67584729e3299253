package enums

// ConnectStatus summarises a coach's connected account readiness.
type ConnectStatus string

const (
	ConnectStatusActive     ConnectStatus = "active"
	ConnectStatusPending    ConnectStatus = "pending"
	ConnectStatusIncomplete ConnectStatus = "incomplete"
)

var validConnectStatuses = []ConnectStatus{
	ConnectStatusActive,
	ConnectStatusPending,
	ConnectStatusIncomplete,
}

// IsValid reports whether the value is known.
func (c ConnectStatus) IsValid() bool {
	for _, candidate := range validConnectStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}
