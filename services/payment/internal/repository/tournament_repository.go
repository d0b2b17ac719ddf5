package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/chess-portal/services/payment/internal/domain"
)

// TournamentRepository определяет доступ к турнирам и регистрациям.
// Подтверждение регистрации после оплаты выполняется внутри транзакции
// финализации заказа (см. OrderRepository), здесь — только чтение.
type TournamentRepository interface {
	// GetByID возвращает турнир по ID.
	GetByID(ctx context.Context, id string) (*domain.Tournament, error)

	// GetRegistration возвращает регистрацию на турнир по ID.
	GetRegistration(ctx context.Context, id string) (*domain.TournamentRegistration, error)
}

// TournamentModel — GORM модель для таблицы tournaments.
type TournamentModel struct {
	ID       string `gorm:"column:id;type:varchar(36);primaryKey"`
	Name     string `gorm:"column:name;type:varchar(255);not null"`
	EntryFee int64  `gorm:"column:entry_fee;not null"`
}

// TableName возвращает имя таблицы в БД.
func (TournamentModel) TableName() string {
	return "tournaments"
}

// RegistrationModel — GORM модель для таблицы tournament_registrations.
type RegistrationModel struct {
	ID           string    `gorm:"column:id;type:varchar(36);primaryKey"`
	TournamentID string    `gorm:"column:tournament_id;type:varchar(36);not null;index"`
	UserID       string    `gorm:"column:user_id;type:varchar(36);not null;index"`
	Status       string    `gorm:"column:status;type:varchar(20);not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (RegistrationModel) TableName() string {
	return "tournament_registrations"
}

// tournamentRepository — GORM реализация TournamentRepository.
type tournamentRepository struct {
	db *gorm.DB
}

// NewTournamentRepository создаёт новый репозиторий турниров.
func NewTournamentRepository(db *gorm.DB) TournamentRepository {
	return &tournamentRepository{db: db}
}

// GetByID возвращает турнир по ID.
func (r *tournamentRepository) GetByID(ctx context.Context, id string) (*domain.Tournament, error) {
	var model TournamentModel

	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTournamentNotFound
		}
		return nil, err
	}

	return &domain.Tournament{
		ID:       model.ID,
		Name:     model.Name,
		EntryFee: model.EntryFee,
	}, nil
}

// GetRegistration возвращает регистрацию на турнир по ID.
func (r *tournamentRepository) GetRegistration(ctx context.Context, id string) (*domain.TournamentRegistration, error) {
	var model RegistrationModel

	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRegistrationNotFound
		}
		return nil, err
	}

	return &domain.TournamentRegistration{
		ID:           model.ID,
		TournamentID: model.TournamentID,
		UserID:       model.UserID,
		Status:       domain.RegistrationStatus(model.Status),
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
	}, nil
}
