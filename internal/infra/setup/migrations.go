package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/mixxson/kidcode2/internal/domain"
)

// MigrateDB 迁移用户和房间表，返回错误以便调用者决定是否继续启动。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}

	models := []struct {
		name  string
		model interface{}
	}{
		{"users", &domain.User{}},
		{"rooms", &domain.Room{}},
	}
	for _, m := range models {
		existed := db.Migrator().HasTable(m.model)
		if err := db.AutoMigrate(m.model); err != nil {
			logrus.WithError(err).Errorf("Failed to migrate %s table", m.name)
			return fmt.Errorf("failed to migrate %s table: %w", m.name, err)
		}
		if existed {
			logrus.Infof("%s table schema checked/updated successfully", m.name)
		} else {
			logrus.Infof("%s table created successfully", m.name)
		}
	}

	logrus.Info("Database migration completed successfully")
	return nil
}
