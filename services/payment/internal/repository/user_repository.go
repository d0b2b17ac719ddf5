package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/chess-portal/services/payment/internal/domain"
)

// UserRepository определяет доступ к пользователям портала.
// Платёжный сервис только читает: данные покупателя для платёжной
// сессии и роль для расчёта тарифа.
type UserRepository interface {
	// GetByID возвращает пользователя по ID.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetMembership возвращает членство пользователя (nil, если его нет).
	GetMembership(ctx context.Context, userID string) (*domain.Membership, error)
}

// UserModel — GORM модель для таблицы users.
type UserModel struct {
	ID         string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Email      string    `gorm:"column:email;type:varchar(255);not null;uniqueIndex"`
	Phone      string    `gorm:"column:phone;type:varchar(20);not null"`
	FirstName  string    `gorm:"column:first_name;type:varchar(100);not null"`
	LastName   string    `gorm:"column:last_name;type:varchar(100);not null"`
	Role       string    `gorm:"column:role;type:varchar(20);not null"`
	TalukCode  string    `gorm:"column:taluk_code;type:varchar(3);not null"`
	DistrictID *string   `gorm:"column:district_id;type:varchar(10);uniqueIndex"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (UserModel) TableName() string {
	return "users"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *UserModel) toDomain() *domain.User {
	return &domain.User{
		ID:         m.ID,
		Email:      m.Email,
		Phone:      m.Phone,
		FirstName:  m.FirstName,
		LastName:   m.LastName,
		Role:       domain.UserRole(m.Role),
		TalukCode:  m.TalukCode,
		DistrictID: m.DistrictID,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

// MembershipModel — GORM модель для таблицы memberships.
type MembershipModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	UserID    string    `gorm:"column:user_id;type:varchar(36);not null;uniqueIndex"`
	Status    string    `gorm:"column:status;type:varchar(20);not null"`
	ValidFrom time.Time `gorm:"column:valid_from;not null"`
	ValidTo   time.Time `gorm:"column:valid_to;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (MembershipModel) TableName() string {
	return "memberships"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *MembershipModel) toDomain() *domain.Membership {
	return &domain.Membership{
		ID:        m.ID,
		UserID:    m.UserID,
		Status:    domain.MembershipStatus(m.Status),
		ValidFrom: m.ValidFrom,
		ValidTo:   m.ValidTo,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// userRepository — GORM реализация UserRepository.
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository создаёт новый репозиторий пользователей.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// GetByID возвращает пользователя по ID.
func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var model UserModel

	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// GetMembership возвращает членство пользователя или nil.
func (r *userRepository) GetMembership(ctx context.Context, userID string) (*domain.Membership, error) {
	var model MembershipModel

	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return model.toDomain(), nil
}
