package domain

import "time"

// Role 表示用户在平台上的角色。
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Valid 判断角色是否合法
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleTeacher || r == RoleStudent
}

// User 表示应用程序中的用户。
type User struct {
	ID          uint      `gorm:"primaryKey"`
	Username    string    `gorm:"type:varchar(191);uniqueIndex:idx_username;not null"`
	DisplayName string    `gorm:"type:varchar(191)"`
	Password    string    `gorm:"type:text;not null"` // bcrypt 哈希
	Email       string    `gorm:"type:varchar(191);uniqueIndex:idx_email"`
	Role        Role      `gorm:"type:varchar(16);not null;default:student"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// Identity 返回附加到连接上的用户身份摘要。
func (u *User) Identity() Identity {
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	return Identity{ID: u.ID, DisplayName: name, Role: u.Role}
}

// Identity 是已认证连接携带的用户身份 {id, displayName, role}。
type Identity struct {
	ID          uint   `json:"id"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

// IsAdmin 判断身份是否为管理员
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }
