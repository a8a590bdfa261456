package model

// Channel names used for delivery preferences.
const (
	ChannelInApp = "in_app"
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// Preferences holds per-channel opt-outs. A missing flag means enabled.
type Preferences map[string]bool

func (p Preferences) Allows(channel string) bool {
	enabled, ok := p[channel]
	return !ok || enabled
}

type User struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Role        string      `json:"role"`
	Email       string      `json:"email,omitempty"`
	Phone       string      `json:"phone,omitempty"`
	Preferences Preferences `json:"preferences,omitempty"`
}

// Technician is a user who can be assigned appointments. EmployeeID orders
// technicians deterministically when their load is equal.
type Technician struct {
	UserID     string `json:"user_id"`
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name"`
	Active     bool   `json:"active"`
}
