package domain

import "time"

// Language 表示房间当前使用的编程语言标签。
type Language string

const (
	LanguageJavaScript Language = "javascript"
	LanguagePython     Language = "python"

	// DefaultLanguage 是新建房间的默认语言
	DefaultLanguage = LanguageJavaScript
)

// Valid 判断语言标签是否属于支持的枚举集合。
func (l Language) Valid() bool {
	switch l {
	case LanguageJavaScript, LanguagePython:
		return true
	}
	return false
}

// Placeholder 返回切换到该语言时编辑区的占位代码。
func (l Language) Placeholder() string {
	if l == LanguagePython {
		return "# Zacznij pisać kod..."
	}
	return "// Zacznij pisać kod..."
}

// ParseLanguage 解析语言标签，空字符串或未知值返回 false。
func ParseLanguage(s string) (Language, bool) {
	l := Language(s)
	return l, l.Valid()
}

// Room 表示一个老师与学生共享代码缓冲区的实时编程房间。
// 房间只保存当前的一份代码和一个语言值，不保留历史。
type Room struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"size:191;not null" json:"name"`
	TeacherID     uint      `gorm:"index;not null" json:"teacherId"`
	StudentID     uint      `gorm:"index;not null" json:"studentId"`
	LessonID      *uint     `gorm:"index" json:"lessonId"`
	Code          string    `gorm:"type:longtext" json:"code"`
	Language      Language  `gorm:"size:32;not null;default:javascript" json:"language"`
	Active        bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
	CodeUpdatedAt time.Time `gorm:"index" json:"codeUpdatedAt"` // 最近一次代码落库的时间，用于丢弃过期的写入
}

// CodeState 是房间代码在某一时刻的状态：待保存的数据或加入房间时的快照。
type CodeState struct {
	RoomID    uint      `json:"roomId"`
	Code      string    `json:"code"`
	Language  Language  `json:"language"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SameContent 判断两个状态的代码与语言是否一致（忽略时间戳）。
func (s CodeState) SameContent(o CodeState) bool {
	return s.Code == o.Code && s.Language == o.Language
}

// VisibleTo 判断身份是否可以查看和加入房间：管理员、房间的老师或被分配的学生。
func (r *Room) VisibleTo(identity Identity) bool {
	switch {
	case identity.IsAdmin():
		return true
	case identity.Role == RoleTeacher:
		return r.TeacherID == identity.ID
	case identity.Role == RoleStudent:
		return r.StudentID == identity.ID
	}
	return false
}
