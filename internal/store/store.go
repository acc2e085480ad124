package store

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log"

	"github.com/go-agentlink/agentlink/internal/models"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Store struct {
	db *gorm.DB
}

func New(driver, dsn string, adminPassword string) (*Store, error) {
	dial, err := dialector(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dial, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if driver == "sqlite" {
		// sqlite allows one writer at a time; a single pooled connection
		// also keeps :memory: databases coherent across the pool.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.DeviceAuthorization{},
		&models.AgentToken{},
	); err != nil {
		return nil, err
	}

	store := &Store{db: db}

	if err := store.seedAdmin(adminPassword); err != nil {
		log.Printf("Warning: failed to seed admin user: %v", err)
	}

	return store, nil
}

// seedAdmin creates the initial dashboard account on an empty database.
func (s *Store) seedAdmin(password string) error {
	var count int64
	s.db.Model(&models.User{}).Count(&count)
	if count > 0 {
		return nil
	}

	generated := false
	if password == "" {
		random, err := generateRandomPassword(16)
		if err != nil {
			return err
		}
		password = random
		generated = true
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user := &models.User{
		ID:           uuid.New().String(),
		Username:     "admin",
		PasswordHash: string(hash),
		Role:         "admin",
	}
	if err := s.db.Create(user).Error; err != nil {
		return err
	}

	if generated {
		log.Printf("Created default user: admin / %s (role: admin)", password)
	} else {
		log.Printf("Created default user: admin (role: admin)")
	}
	return nil
}

func generateRandomPassword(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes)[:length], nil
}

// User operations

func (s *Store) GetUserByUsername(username string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &user, nil
}

func (s *Store) GetUserByID(id string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &user, nil
}

func (s *Store) CreateUser(user *models.User) error {
	return s.db.Create(user).Error
}

// Health checks the database connection
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
