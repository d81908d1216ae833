package storage

import "time"

type Conversation struct {
	ID        string
	SessionID string
	UserID    string
	Role      string
	Content   string
	MetaJSON  string
	CreatedAt time.Time
}

type SessionSummary struct {
	SessionID    string
	LastMessage  string
	LastUpdated  time.Time
	MessageCount int64
}

type Device struct {
	ID            string
	Name          string
	IPAddress     string
	Model         string
	Status        string
	UptimeSeconds int64
	LastSeen      *time.Time
	ConfigBackup  *string
	MetaJSON      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type DeviceStats struct {
	Total   int64
	Online  int64
	Offline int64
	Warning int64
}

type Setting struct {
	Section   string
	ValueJSON string
	UpdatedAt time.Time
}

type APIKey struct {
	ID        int64
	Name      string
	Service   string
	EncKey    string
	IsActive  bool
	CreatedAt time.Time
}

type Operation struct {
	ID           string
	DeviceID     *string
	Kind         string
	Status       string
	Command      string
	Result       string
	ErrorMessage string
	DurationMS   int64
	CreatedAt    time.Time
}
