package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tunnelx/tunnelx/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init() error {
	dbPath := config.Cfg.DatabasePath
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(&User{}, &RefreshToken{}, &Setting{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

func GetSetting(key string) (string, error) {
	var s Setting
	if err := DB.Where("key = ?", key).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	return DB.Where("key = ?", key).Assign(Setting{Value: value}).FirstOrCreate(&Setting{Key: key}).Error
}

// User helpers

func GetUserByEmail(email string) (*User, error) {
	var u User
	if err := DB.Where("email = ?", email).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func GetUserByID(id string) (*User, error) {
	var u User
	if err := DB.Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func CreateUser(user *User) error {
	return DB.Create(user).Error
}

func ListUsers() ([]User, error) {
	var users []User
	if err := DB.Order("created_at").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func UpdateUserPassword(id string, hash string) error {
	return DB.Model(&User{}).Where("id = ?", id).Update("password_hash", hash).Error
}

func SetUserRole(id string, role string) error {
	return DB.Model(&User{}).Where("id = ?", id).Update("role", role).Error
}

// SetUserConnected persists the connection flag maintained by the session
// orchestrator.
func SetUserConnected(id string, connected bool) error {
	return DB.Model(&User{}).Where("id = ?", id).Update("is_connected", connected).Error
}

func SetUserSplitTunneling(id string, enabled bool) error {
	return DB.Model(&User{}).Where("id = ?", id).Update("is_split_tunneling", enabled).Error
}

func SetUserOnline(id string, online bool) error {
	return DB.Model(&User{}).Where("id = ?", id).Update("is_online", online).Error
}

func TouchLastLogin(id string) error {
	return DB.Model(&User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_online":  true,
		"last_login": time.Now(),
	}).Error
}

// ConnectedUsers returns users whose persisted connection flag is set.
func ConnectedUsers() ([]User, error) {
	var users []User
	if err := DB.Where("is_connected = ?", true).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// Refresh token helpers

func SaveRefreshToken(userID, token string, expiresAt time.Time) error {
	return DB.Create(&RefreshToken{UserID: userID, Token: token, ExpiresAt: expiresAt}).Error
}

func GetUserByRefreshToken(token string) (*User, *RefreshToken, error) {
	var rt RefreshToken
	if err := DB.Where("token = ?", token).First(&rt).Error; err != nil {
		return nil, nil, err
	}
	u, err := GetUserByID(rt.UserID)
	if err != nil {
		return nil, nil, err
	}
	return u, &rt, nil
}

func DeleteRefreshToken(token string) error {
	return DB.Where("token = ?", token).Delete(&RefreshToken{}).Error
}

func DeleteUserRefreshTokens(userID string) error {
	return DB.Where("user_id = ?", userID).Delete(&RefreshToken{}).Error
}

func CountUserRefreshTokens(userID string) (int64, error) {
	var count int64
	err := DB.Model(&RefreshToken{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

func PurgeExpiredRefreshTokens() (int64, error) {
	res := DB.Where("expires_at < ?", time.Now()).Delete(&RefreshToken{})
	return res.RowsAffected, res.Error
}
