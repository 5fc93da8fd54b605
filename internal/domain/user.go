package domain

import "time"

// Roles recognized by the room. Access control is a binary admin check.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// OnlineThreshold is the presence staleness window. A user is online
// iff now − last_seen < OnlineThreshold, derived at read time.
const OnlineThreshold = 60 * time.Second

// UserModel is the GORM model for the users table.
// last_seen is overwritten by the owning user's heartbeat only.
type UserModel struct {
	ID          string    `gorm:"type:varchar(36);primaryKey"`
	DisplayName string    `gorm:"type:varchar(100);not null"`
	AvatarURL   string    `gorm:"type:text"`
	Role        string    `gorm:"type:varchar(16);not null;default:user"`
	LastSeen    time.Time `gorm:"index"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for UserModel.
func (UserModel) TableName() string {
	return TableUsers
}

// User is a room member with derived presence.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Role        string    `json:"role"`
	LastSeen    time.Time `json:"last_seen"`
	Online      bool      `json:"online"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// ToDomain converts a UserModel to a domain User.
// Online is computed against the supplied wall-clock instant so that a
// whole listing is classified consistently.
func (m *UserModel) ToDomain(now time.Time) *User {
	return &User{
		ID:          m.ID,
		DisplayName: m.DisplayName,
		AvatarURL:   m.AvatarURL,
		Role:        m.Role,
		LastSeen:    m.LastSeen,
		Online:      now.Sub(m.LastSeen) < OnlineThreshold,
	}
}

// ToModel converts a domain User to its GORM model.
func (u *User) ToModel() *UserModel {
	return &UserModel{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Role:        u.Role,
		LastSeen:    u.LastSeen,
	}
}
