package server

import "fmt"

// Stable error codes. Clients key behavior off these; the human messages are
// free to change.
const (
	CodeReconnectGrace        = "reconnect_grace"
	CodeReconnectRestored     = "reconnect_restored"
	CodeReconnectTokenExpired = "reconnect_token_expired"
	CodeReconnectTokenInUse   = "reconnect_token_in_use"
	CodeInvalidPayload        = "invalid_payload"
	CodeInvalidShipPlacement  = "invalid_ship_placement"
	CodeInvalidCoord          = "invalid_coord"
	CodeNotYourTurn           = "not_your_turn"
	CodeAlreadyShot           = "already_shot"
	CodeAlreadyReady          = "already_ready"
	CodeNotInPlaying          = "not_in_playing"
	CodeNotInSetup            = "not_in_setup"
	CodeRoomMismatch          = "room_mismatch"
	CodeRateLimited           = "rate_limited"
	CodeChatInvalidPayload    = "chat_invalid_payload"
	CodeChatRateLimited       = "chat_rate_limited"
	CodeChatNotAllowed        = "chat_not_allowed"
	CodeChatRoomMismatch      = "chat_room_mismatch"
	CodeSoftBan               = "soft_ban"
	CodeGeneral               = "general"
)

// Terminal reasons carried on game:over.
const (
	ReasonFleetSunk    = "fleet_sunk"
	ReasonManualCancel = "manual_cancel"
	ReasonDisconnect   = "disconnect"
	ReasonInactivity   = "inactivity_timeout"
	ReasonGeneral      = "general"
)

// domainError is a failed room or queue operation. The gateway turns it into
// a game:error event; the zero RemainingMs is omitted on the wire.
type domainError struct {
	Code        string
	Message     string
	RemainingMs int64

	// Fault marks client mistakes that count toward the soft-ban budget.
	Fault bool
}

func (e *domainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// errCode builds a policy or lifecycle error.
func errCode(code, message string) *domainError {
	return &domainError{Code: code, Message: message}
}

// errFault builds a client-fault error that feeds the soft-ban budget.
func errFault(code, message string) *domainError {
	return &domainError{Code: code, Message: message, Fault: true}
}
