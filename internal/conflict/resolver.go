// Package conflict выбирает победившую версию, когда локальное и удаленное
// состояние сущности разошлись.
package conflict

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/offsync/internal/models"
)

var (
	// ErrResolutionFailed снимок версии не удалось разобрать; конфликт остается неразрешенным
	ErrResolutionFailed = errors.New("conflict resolution failed")

	// ErrManualStrategy MANUAL нельзя применить автоматически, нужен выбор пользователя
	ErrManualStrategy = errors.New("manual strategy requires a user decision")

	// ErrUnknownStrategy стратегия не поддерживается
	ErrUnknownStrategy = errors.New("unknown resolution strategy")
)

// Resolver разрешает конфликты выбранной стратегией. Входные данные не изменяются,
// каждый вызов возвращает новое значение Resolution.
type Resolver struct {
	now      func() time.Time
	strategy models.Strategy
}

// NewResolver создает resolver со стратегией по умолчанию
func NewResolver(strategy models.Strategy) (*Resolver, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
	return &Resolver{strategy: strategy, now: time.Now}, nil
}

// Strategy возвращает стратегию по умолчанию
func (r *Resolver) Strategy() models.Strategy {
	return r.strategy
}

// Resolve разрешает конфликт стратегией по умолчанию
func (r *Resolver) Resolve(c *models.Conflict) (*models.Resolution, error) {
	return r.ResolveWith(c, r.strategy)
}

// ResolveWith разрешает конфликт заданной стратегией
func (r *Resolver) ResolveWith(c *models.Conflict, strategy models.Strategy) (*models.Resolution, error) {
	var (
		winner models.Side
		err    error
	)

	switch strategy {
	case models.StrategyLastWriteWins:
		winner, err = Compare(c.LocalVersion, c.RemoteVersion)
	case models.StrategyRemoteWins:
		winner, err = models.SideRemote, validateRemote(c.RemoteVersion)
	case models.StrategyLocalWins:
		winner, err = models.SideLocal, validate(c.LocalVersion, "local")
	case models.StrategyManual:
		return nil, ErrManualStrategy
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
	if err != nil {
		return nil, err
	}

	return r.resolution(c, strategy, winner), nil
}

// ResolveManually фиксирует выбор пользователя (стратегия MANUAL)
func (r *Resolver) ResolveManually(c *models.Conflict, winner models.Side) (*models.Resolution, error) {
	switch winner {
	case models.SideLocal:
		if err := validate(c.LocalVersion, "local"); err != nil {
			return nil, err
		}
	case models.SideRemote:
		if err := validateRemote(c.RemoteVersion); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown side %q", ErrResolutionFailed, winner)
	}
	return r.resolution(c, models.StrategyManual, winner), nil
}

// Compare применяет LWW к двум снимкам и возвращает сторону-победителя.
// Сравнивается собственный логический timestamp сущности (updated_at),
// при равенстве побеждает меньший device_id. Полное совпадение - локальная версия.
// null снимок считается надгробием без версии и проигрывает любому разобранному.
func Compare(local, remote json.RawMessage) (models.Side, error) {
	switch {
	case models.IsNullSnapshot(remote):
		if models.IsNullSnapshot(local) {
			return models.SideLocal, nil
		}
		return models.SideLocal, validate(local, "local")
	case models.IsNullSnapshot(local):
		return models.SideRemote, validate(remote, "remote")
	}

	lv, err := models.ParseVersion(local)
	if err != nil {
		return "", fmt.Errorf("%w: local version: %v", ErrResolutionFailed, err)
	}
	rv, err := models.ParseVersion(remote)
	if err != nil {
		return "", fmt.Errorf("%w: remote version: %v", ErrResolutionFailed, err)
	}

	if rv.IsNewerThan(lv) {
		return models.SideRemote, nil
	}
	return models.SideLocal, nil
}

func (r *Resolver) resolution(c *models.Conflict, strategy models.Strategy, winner models.Side) *models.Resolution {
	selected := c.LocalVersion
	if winner == models.SideRemote {
		selected = c.RemoteVersion
	}

	return &models.Resolution{
		Strategy:        strategy,
		Winner:          winner,
		SelectedVersion: append(json.RawMessage(nil), selected...),
		AppliedAt:       r.now().UTC(),
	}
}

// validateRemote допускает null: сервер сообщает, что сущности у него нет
func validateRemote(raw json.RawMessage) error {
	if models.IsNullSnapshot(raw) {
		return nil
	}
	return validate(raw, "remote")
}

func validate(raw json.RawMessage, side string) error {
	if _, err := models.ParseVersion(raw); err != nil {
		return fmt.Errorf("%w: %s version: %v", ErrResolutionFailed, side, err)
	}
	return nil
}
