package domain

import "time"

// User is a dashboard account. Bots belong to exactly one user.
type User struct {
	ID        int64     `json:"id,string" gorm:"primaryKey" bson:"_id"`
	Username  string    `json:"username" gorm:"uniqueIndex;size:64" bson:"username"`
	Email     string    `json:"email" gorm:"uniqueIndex;size:255" bson:"email"`
	Password  string    `json:"-" bson:"password"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

func (User) TableName() string {
	return "wa_user"
}
