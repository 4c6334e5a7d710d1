package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/iudanet/offsync/internal/models"
)

// UserIDPattern определяет допустимый формат идентификатора пользователя
// Только латинские буквы (a-z, A-Z), цифры (0-9), нижнее подчеркивание (_) и дефис
// Длина: 3-64 символа
var UserIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,64}$`)

const (
	// MaxTitleLen максимальная длина названия мероприятия
	MaxTitleLen = 200
	// MaxNameLen максимальная длина имени участника
	MaxNameLen = 100
	// MaxOptionLen максимальная длина варианта голосования
	MaxOptionLen = 200
)

// ValidateUserID проверяет идентификатор пользователя
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if !UserIDPattern.MatchString(userID) {
		return fmt.Errorf("user id must be 3-64 characters of letters, numbers, '_' or '-'")
	}
	return nil
}

// ValidateEvent проверяет поля мероприятия перед записью
func ValidateEvent(e *models.Event) error {
	if err := requiredText("title", e.Title, MaxTitleLen); err != nil {
		return err
	}
	if e.Status != "" && !e.Status.Valid() {
		return fmt.Errorf("unknown event status %q", e.Status)
	}
	return nil
}

// ValidateParticipant проверяет поля участника
func ValidateParticipant(p *models.Participant) error {
	if p.EventID == "" {
		return fmt.Errorf("event id cannot be empty")
	}
	if err := requiredText("name", p.Name, MaxNameLen); err != nil {
		return err
	}
	if p.Status != "" && !p.Status.Valid() {
		return fmt.Errorf("unknown participant status %q", p.Status)
	}
	return nil
}

// ValidateVote проверяет поля голоса
func ValidateVote(v *models.Vote) error {
	if v.EventID == "" {
		return fmt.Errorf("event id cannot be empty")
	}
	if v.ParticipantID == "" {
		return fmt.Errorf("participant id cannot be empty")
	}
	return requiredText("option", v.Option, MaxOptionLen)
}

func requiredText(field, value string, maxLen int) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if utf8.RuneCountInString(value) > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", field, maxLen)
	}
	return nil
}
