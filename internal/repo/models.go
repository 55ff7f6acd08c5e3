package repo

import "time"

// UserRecord is the persisted registration of a platform user.
// UserID is the one-way digest of the platform sender id, never the raw id.
type UserRecord struct {
	UserID            string    `json:"user_id"`
	RegisteredAddress string    `json:"registered_address"`
	DepositAddress    string    `json:"deposit_address"`
	LastMessageID     string    `json:"last_message_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Key returns the key-value store key for the record.
func (u UserRecord) Key() string {
	return UserKey(u.UserID)
}

// UserKey builds the store key for a user id.
func UserKey(userID string) string {
	return "user:" + userID
}
