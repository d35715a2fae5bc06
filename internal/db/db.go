package db

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/hferrand/chatstream/internal/chat"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := gdb.AutoMigrate(&chat.Conversation{}, &chat.Message{}, &chat.Job{}); err != nil {
		return nil, err
	}
	return gdb, nil
}
