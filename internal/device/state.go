package device

import "time"

// ConnectionState is the broker session state as last reported by the
// session manager. Nothing else may set it.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionReconnecting ConnectionState = "reconnecting"
)

// Valid reports whether c is one of the known states.
func (c ConnectionState) Valid() bool {
	switch c {
	case ConnectionDisconnected, ConnectionConnecting, ConnectionConnected, ConnectionReconnecting:
		return true
	}
	return false
}

// DefaultStatus is the status text before the device has reported one.
const DefaultStatus = "UNKNOWN"

// State is the derived view of the feeder.
//
// FoodLevelPercent and LastFeedLabel are nil until the device reports them.
// Feeding is derived from Status and is also raised temporarily by a manual
// feed dispatch.
type State struct {
	Connection       ConnectionState `json:"connection"`
	FoodLevelPercent *float64        `json:"food_level_percent"`
	LastFeedLabel    *string         `json:"last_feed"`
	Status           string          `json:"status"`
	Feeding          bool            `json:"feeding"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewState returns the state a fresh session starts from.
func NewState() State {
	return State{
		Connection: ConnectionDisconnected,
		Status:     DefaultStatus,
	}
}

// Clone returns a copy that shares no pointers with s.
func (s State) Clone() State {
	out := s
	if s.FoodLevelPercent != nil {
		v := *s.FoodLevelPercent
		out.FoodLevelPercent = &v
	}
	if s.LastFeedLabel != nil {
		v := *s.LastFeedLabel
		out.LastFeedLabel = &v
	}
	return out
}

// Equal compares the observable fields, ignoring UpdatedAt.
func (s State) Equal(o State) bool {
	if s.Connection != o.Connection || s.Status != o.Status || s.Feeding != o.Feeding {
		return false
	}
	if (s.FoodLevelPercent == nil) != (o.FoodLevelPercent == nil) {
		return false
	}
	if s.FoodLevelPercent != nil && *s.FoodLevelPercent != *o.FoodLevelPercent {
		return false
	}
	if (s.LastFeedLabel == nil) != (o.LastFeedLabel == nil) {
		return false
	}
	return s.LastFeedLabel == nil || *s.LastFeedLabel == *o.LastFeedLabel
}
