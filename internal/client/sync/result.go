package sync

import (
	"time"

	"github.com/iudanet/offsync/internal/models"
)

// Phase фаза цикла синхронизации
type Phase string

const (
	PhaseIdle             Phase = "IDLE"
	PhaseCheckingNetwork  Phase = "CHECKING_NETWORK"
	PhaseCollecting       Phase = "COLLECTING"
	PhaseSending          Phase = "SENDING"
	PhaseApplyingResponse Phase = "APPLYING_RESPONSE"
	PhaseError            Phase = "ERROR"
)

// Outcome итог одного вызова TriggerSync
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeNoChanges      Outcome = "no_changes"
	OutcomeOffline        Outcome = "offline"
	OutcomeAlreadySyncing Outcome = "already_syncing"
	OutcomeTransportError Outcome = "transport_error"
)

// Failed true для исходов, после которых планировщик откладывает следующий цикл
func (o Outcome) Failed() bool {
	return o == OutcomeOffline || o == OutcomeTransportError
}

// ChangeFailure изменение, исчерпавшее попытки доставки
type ChangeFailure struct {
	Err      error // оборачивает ErrMaxRetriesExceeded
	ChangeID string
	EntityID string
}

// ConflictReport конфликт, обработанный в цикле
type ConflictReport struct {
	Err          error // для неразрешенных оборачивает ErrConflictDetected
	ConflictID   string
	ChangeID     string
	EntityID     string
	ConflictType models.ConflictType
	Winner       models.Side
	Resolved     bool
}

// Result итог цикла синхронизации
type Result struct {
	Err           error // ErrNetworkUnavailable, *TransportError, ErrAlreadySyncing или nil
	Outcome       Outcome
	Exhausted     []ChangeFailure
	Conflicts     []ConflictReport
	Sent          int
	Synced        int
	Requeued      int
	RemoteApplied int
	Duration      time.Duration
}
