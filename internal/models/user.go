package models

import "time"

// User is a subject known to the service, registered on first authenticated call.
type User struct {
	ID        int       `db:"id" json:"id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
