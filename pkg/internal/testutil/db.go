package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/smith3v/couple-devotional/pkg/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// SetupTestDB opens a migrated in-memory sqlite database private to t.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))

	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}
	if err := db.SerializeWriters(gdb); err != nil {
		t.Fatalf("failed to configure connection pool: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to access underlying DB: %v", err)
	}

	t.Cleanup(func() {
		if err := sqlDB.Close(); err != nil {
			t.Fatalf("failed to close database: %v", err)
		}
	})
	return gdb
}

// CreateUser inserts a user with the given email.
func CreateUser(t *testing.T, gdb *gorm.DB, email string) db.User {
	t.Helper()
	user := db.User{Email: email, Name: strings.Split(email, "@")[0], PasswordHash: "x"}
	if err := gdb.Create(&user).Error; err != nil {
		t.Fatalf("failed to create user %s: %v", email, err)
	}
	return user
}

// CreateCouple inserts a couple with the given code and attaches members.
func CreateCouple(t *testing.T, gdb *gorm.DB, code string, members ...*db.User) db.Couple {
	t.Helper()
	couple := db.Couple{Code: code}
	if err := gdb.Create(&couple).Error; err != nil {
		t.Fatalf("failed to create couple %s: %v", code, err)
	}
	for _, m := range members {
		if err := gdb.Model(m).Update("couple_id", couple.ID).Error; err != nil {
			t.Fatalf("failed to attach user %s: %v", m.ID, err)
		}
		m.CoupleID = &couple.ID
	}
	return couple
}
