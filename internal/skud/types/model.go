package types

import (
	"strings"
	"time"
	"unicode"
)

type AccessStatus string

const (
	AccessPending AccessStatus = "pending"
	AccessAllowed AccessStatus = "allowed"
	AccessBlocked AccessStatus = "blocked"
	AccessRevoked AccessStatus = "revoked"
	AccessDeleted AccessStatus = "deleted"
)

// Reason codes owned by compliance processes rather than operators.
const (
	ReasonCodeRKL             = "rkl"
	ReasonCodeDocumentExpired = "document_expired"
)

// IsSystemReasonCode reports whether a block carrying code may only be lifted
// by the process that set it.
func IsSystemReasonCode(code string) bool {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case ReasonCodeRKL, ReasonCodeDocumentExpired:
		return true
	}
	return false
}

const (
	SourceManual = "manual"
	SourceSystem = "system"
)

type AccessState struct {
	ID             int64          `json:"id"`
	PersonID       int64          `json:"personId"`
	ExternalSystem string         `json:"externalSystem"`
	Status         AccessStatus   `json:"status"`
	StatusReason   string         `json:"statusReason,omitempty"`
	ReasonCode     string         `json:"reasonCode,omitempty"`
	Source         string         `json:"source"`
	EffectiveFrom  *time.Time     `json:"effectiveFrom,omitempty"`
	EffectiveTo    *time.Time     `json:"effectiveTo,omitempty"`
	ChangedBy      string         `json:"changedBy,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// SystemBlocked reports whether the state is a block set by a compliance process.
func (s AccessState) SystemBlocked() bool {
	return s.Status == AccessBlocked && IsSystemReasonCode(s.ReasonCode)
}

// StateChange is handed to the state-changed notification hook.
type StateChange struct {
	PersonID       int64         `json:"personId"`
	ExternalSystem string        `json:"externalSystem"`
	From           *AccessStatus `json:"from,omitempty"`
	To             AccessStatus  `json:"to"`
	ReasonCode     string        `json:"reasonCode,omitempty"`
	ChangedBy      string        `json:"changedBy,omitempty"`
	At             time.Time     `json:"at"`
}

type CardStatus string

const (
	CardActive  CardStatus = "active"
	CardBlocked CardStatus = "blocked"
	CardUnbound CardStatus = "unbound"
	CardRevoked CardStatus = "revoked"
	CardLost    CardStatus = "lost"
)

// Terminal statuses have no path back to active; a new card must be registered.
func (s CardStatus) Terminal() bool {
	return s == CardRevoked || s == CardLost
}

func ParseCardStatus(v string) (CardStatus, bool) {
	switch CardStatus(strings.ToLower(strings.TrimSpace(v))) {
	case CardActive:
		return CardActive, true
	case CardBlocked:
		return CardBlocked, true
	case CardUnbound:
		return CardUnbound, true
	case CardRevoked:
		return CardRevoked, true
	case CardLost:
		return CardLost, true
	}
	return "", false
}

const DefaultCardType = "em_marine"

type Card struct {
	ID                   string         `json:"id"`
	ExternalSystem       string         `json:"externalSystem"`
	CardNumber           string         `json:"cardNumber"`
	CardNumberNormalized string         `json:"cardNumberNormalized"`
	ExternalCardID       string         `json:"externalCardId,omitempty"`
	CardType             string         `json:"cardType"`
	Status               CardStatus     `json:"status"`
	PersonID             *int64         `json:"personId,omitempty"`
	IssuedAt             time.Time      `json:"issuedAt"`
	BlockedAt            *time.Time     `json:"blockedAt,omitempty"`
	LastSeenAt           *time.Time     `json:"lastSeenAt,omitempty"`
	Notes                string         `json:"notes,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

// NormalizeCardNumber uppercases a card number and drops whitespace and
// separators, so "ab-12 3" and "AB123" address the same card.
func NormalizeCardNumber(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

type QRTokenType string

const (
	QRPersistent QRTokenType = "persistent"
	QROneTime    QRTokenType = "one_time"
)

func ParseQRTokenType(v string) (QRTokenType, bool) {
	switch QRTokenType(strings.ToLower(strings.TrimSpace(v))) {
	case QRPersistent:
		return QRPersistent, true
	case QROneTime, "":
		return QROneTime, true
	}
	return "", false
}

type QRToken struct {
	JTI       string         `json:"jti"`
	PersonID  int64          `json:"personId"`
	TokenHash string         `json:"tokenHash"`
	TokenType QRTokenType    `json:"tokenType"`
	ExpiresAt time.Time      `json:"expiresAt"`
	UsedAt    *time.Time     `json:"usedAt,omitempty"`
	RevokedAt *time.Time     `json:"revokedAt,omitempty"`
	IssuedBy  string         `json:"issuedBy,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

type PersonBinding struct {
	ID             int64     `json:"id"`
	PersonID       int64     `json:"personId"`
	ExternalSystem string    `json:"externalSystem"`
	ExternalEmpID  string    `json:"externalEmpId"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Person is the projection of an employee this subsystem relies on.
type Person struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullName"`
	IsActive bool   `json:"isActive"`
}

const (
	EventSourceHardware = "hardware"
	EventSourceQR       = "qr"
	EventSourceWebdel   = "webdel"
)

const (
	EventTypePassage  = "passage"
	EventTypeDelegate = "delegate_decision"
	EventTypeQR       = "qr_validation"
)

// Turnstile direction codes.
const (
	DirectionExit    = 1
	DirectionEntry   = 2
	DirectionUnknown = 3
)

type AccessEvent struct {
	ID              int64     `json:"id"`
	Source          string    `json:"source"`
	EventType       string    `json:"eventType"`
	LogID           *int64    `json:"logId,omitempty"`
	PersonID        *int64    `json:"personId,omitempty"`
	ExternalEmpID   string    `json:"externalEmpId,omitempty"`
	AccessPoint     string    `json:"accessPoint,omitempty"`
	Direction       int       `json:"direction,omitempty"`
	KeyHex          string    `json:"keyHex,omitempty"`
	TokenHash       string    `json:"tokenHash,omitempty"`
	Allow           bool      `json:"allow"`
	ReasonCode      string    `json:"reasonCode,omitempty"`
	DecisionMessage string    `json:"decisionMessage,omitempty"`
	EventTime       time.Time `json:"eventTime"`
	ReceivedAt      time.Time `json:"receivedAt"`
	RawPayload      []byte    `json:"rawPayload,omitempty"`
}

type SyncJobStatus string

const (
	SyncPending    SyncJobStatus = "pending"
	SyncProcessing SyncJobStatus = "processing"
	SyncSuccess    SyncJobStatus = "success"
	SyncFailed     SyncJobStatus = "failed"
)

// Operations recorded on the sync ledger.
const (
	OpGrant        = "grant"
	OpBlock        = "block"
	OpRevoke       = "revoke"
	OpDelete       = "delete"
	OpCardRegister = "card_register"
	OpCardBind     = "card_bind"
	OpCardUnbind   = "card_unbind"
	OpCardBlock    = "card_block"
	OpCardAllow    = "card_allow"
	OpCardLost     = "card_lost"
	OpCardRevoke   = "card_revoke"
	OpQRIssue      = "qr_issue"
	OpQRRevoke     = "qr_revoke"
)

type SyncJob struct {
	ID              string         `json:"id"`
	ExternalSystem  string         `json:"externalSystem"`
	PersonID        *int64         `json:"personId,omitempty"`
	Operation       string         `json:"operation"`
	Status          SyncJobStatus  `json:"status"`
	Payload         map[string]any `json:"payload,omitempty"`
	ResponsePayload string         `json:"responsePayload,omitempty"`
	ErrorMessage    string         `json:"errorMessage,omitempty"`
	Attempts        int            `json:"attempts"`
	CreatedBy       string         `json:"createdBy,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

type AuditEntry struct {
	ID         int64          `json:"id"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	TargetType string         `json:"targetType"`
	TargetID   string         `json:"targetId"`
	Outcome    string         `json:"outcome"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

func Int64Ptr(v int64) *int64 { return &v }

func TimePtr(t time.Time) *time.Time { return &t }
