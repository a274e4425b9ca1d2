package types

import "time"

// Admin API request and response shapes.

type AccessMutationRequest struct {
	Reason        string         `json:"reason" validate:"max=1000"`
	ReasonCode    string         `json:"reasonCode" validate:"max=64"`
	ExternalEmpID string         `json:"externalEmpId" validate:"max=128"`
	Source        string         `json:"source" validate:"omitempty,oneof=manual system"`
	Metadata      map[string]any `json:"metadata"`
}

type BatchAction string

const (
	BatchGrant  BatchAction = "grant"
	BatchBlock  BatchAction = "block"
	BatchRevoke BatchAction = "revoke"
	BatchDelete BatchAction = "delete"
)

type BatchMutationRequest struct {
	PersonIDs  []int64        `json:"personIds" validate:"required,min=1,max=500,dive,gt=0"`
	Action     BatchAction    `json:"action" validate:"required,oneof=grant block revoke delete"`
	Reason     string         `json:"reason" validate:"max=1000"`
	ReasonCode string         `json:"reasonCode" validate:"max=64"`
	Source     string         `json:"source" validate:"omitempty,oneof=manual system"`
	Metadata   map[string]any `json:"metadata"`
}

type BatchItemResult struct {
	PersonID int64        `json:"personId"`
	OK       bool         `json:"ok"`
	State    *AccessState `json:"state,omitempty"`
	Error    string       `json:"error,omitempty"`
	Code     string       `json:"code,omitempty"`
}

type BatchReport struct {
	Action    BatchAction       `json:"action"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Items     []BatchItemResult `json:"items"`
}

// PersonAccess is the full SKUD picture for one person.
type PersonAccess struct {
	Person  Person         `json:"person"`
	State   *AccessState   `json:"state,omitempty"`
	Binding *PersonBinding `json:"binding,omitempty"`
	Cards   []Card         `json:"cards"`
}

type CardRegisterRequest struct {
	CardNumber     string         `json:"cardNumber" validate:"required,max=64"`
	ExternalCardID string         `json:"externalCardId" validate:"max=128"`
	CardType       string         `json:"cardType" validate:"max=32"`
	PersonID       *int64         `json:"personId" validate:"omitempty,gt=0"`
	Notes          string         `json:"notes" validate:"max=1000"`
	Metadata       map[string]any `json:"metadata"`
}

type CardBindRequest struct {
	PersonID int64  `json:"personId" validate:"required,gt=0"`
	Notes    string `json:"notes" validate:"max=1000"`
}

type CardReasonRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// CardView is a card together with the person it is bound to, if any.
type CardView struct {
	Card   Card    `json:"card"`
	Person *Person `json:"person,omitempty"`
}

type QRIssueRequest struct {
	PersonID   int64          `json:"personId" validate:"required,gt=0"`
	TokenType  string         `json:"tokenType" validate:"omitempty,oneof=persistent one_time"`
	TTLSeconds int            `json:"ttlSeconds" validate:"gte=0,lte=86400"`
	Metadata   map[string]any `json:"metadata"`
}

type QRIssueResponse struct {
	Token     string      `json:"token"`
	JTI       string      `json:"jti"`
	PersonID  int64       `json:"personId"`
	TokenType QRTokenType `json:"tokenType"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

type QRValidateRequest struct {
	Token       string         `json:"token" validate:"required"`
	AccessPoint string         `json:"accessPoint" validate:"max=128"`
	Direction   int            `json:"direction" validate:"gte=0,lte=3"`
	Metadata    map[string]any `json:"metadata"`
}

// QRValidation is the outcome of presenting a QR token. A deny is a normal
// result, not an error.
type QRValidation struct {
	Allow     bool        `json:"allow"`
	Reason    string      `json:"reason,omitempty"`
	PersonID  *int64      `json:"personId,omitempty"`
	JTI       string      `json:"jti,omitempty"`
	TokenType QRTokenType `json:"tokenType,omitempty"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}
