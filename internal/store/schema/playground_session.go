package schema

import "time"

// PlaygroundSession represents the playground_sessions table - anonymous trial sessions
type PlaygroundSession struct {
	// ID is the session identity (UUID)
	ID string `gorm:"column:id;primaryKey;type:varchar(36)"`
	// Token is the anonymous bearer credential for the session
	Token string `gorm:"column:token;not null;unique;type:varchar(64)"`
	// EndpointID is the throwaway endpoint backing the session
	EndpointID string `gorm:"column:endpoint_id;not null;type:varchar(36)"`
	// Status is active or expired
	Status string `gorm:"column:status;not null;default:active;type:varchar(16)"`
	// ExpiresAt is when the session lapses; the cleanup sweep keys on it
	ExpiresAt time.Time `gorm:"column:expires_at;not null;type:timestamptz;index"`
	// CreatedAt is the timestamp when this session was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the PlaygroundSession model
func (PlaygroundSession) TableName() string {
	return "playground_sessions"
}
