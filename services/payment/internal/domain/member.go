package domain

import (
	"fmt"
	"regexp"
	"time"
)

// UserRole — роль пользователя в портале ассоциации.
type UserRole string

const (
	RolePlayer  UserRole = "PLAYER"
	RoleArbiter UserRole = "ARBITER"
	RoleAdmin   UserRole = "ADMIN"
)

// User — пользователь портала. Платёжный сервис читает его для
// заполнения данных покупателя у провайдера и расчёта тарифа по роли.
type User struct {
	ID         string
	Email      string
	Phone      string
	FirstName  string
	LastName   string
	Role       UserRole
	TalukCode  string  // Трёхбуквенный код талука для членского номера
	DistrictID *string // Членский номер ассоциации, выдаётся один раз
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FullName возвращает полное имя пользователя.
func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// MembershipStatus — статус членства.
type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "ACTIVE"
	MembershipExpired MembershipStatus = "EXPIRED"
)

// Membership — членство пользователя в ассоциации.
// Активируется после успешной оплаты MEMBERSHIP_NEW / MEMBERSHIP_RENEWAL.
type Membership struct {
	ID        string
	UserID    string
	Status    MembershipStatus
	ValidFrom time.Time
	ValidTo   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MembershipWindow возвращает окно действия членства: текущий календарный
// год целиком, с 1 января 00:00:00 по 31 декабря 23:59:59.
func MembershipWindow(now time.Time) (time.Time, time.Time) {
	year := now.Year()
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, now.Location())
	to := time.Date(year, time.December, 31, 23, 59, 59, 0, now.Location())
	return from, to
}

// districtIDPattern — формат членского номера: трёхзначный порядковый
// номер + код талука + год.
var districtIDPattern = regexp.MustCompile(`^\d{3}[A-Z]{3}\d{4}$`)

// FormatDistrictID собирает членский номер из порядкового номера,
// кода талука и года.
func FormatDistrictID(seq int, talukCode string, year int) string {
	return fmt.Sprintf("%03d%s%d", seq, talukCode, year)
}

// ValidDistrictID проверяет формат членского номера.
func ValidDistrictID(id string) bool {
	return districtIDPattern.MatchString(id)
}

// Tournament — турнир ассоциации. Платёжному сервису нужен только
// вступительный взнос.
type Tournament struct {
	ID       string
	Name     string
	EntryFee int64 // В рупиях
}

// RegistrationStatus — статус регистрации на турнир.
type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "PENDING"
	RegistrationConfirmed RegistrationStatus = "CONFIRMED"
	RegistrationCancelled RegistrationStatus = "CANCELLED"
)

// TournamentRegistration — регистрация пользователя на турнир.
// Подтверждается после успешной оплаты взноса.
type TournamentRegistration struct {
	ID           string
	TournamentID string
	UserID       string
	Status       RegistrationStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
