package domain

// Record store table names, shared between repositories and change
// feed consumers.
const (
	TableMessages = "messages"
	TableStickers = "stickers"
	TableUsers    = "users"
)
