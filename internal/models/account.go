package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// SearchHistoryEntry is a best-effort audit record of one search.
type SearchHistoryEntry struct {
	ID          uuid.UUID         `json:"id"`
	UserID      uuid.UUID         `json:"userId"`
	Query       string            `json:"query"`
	Filters     GrantSearchParams `json:"filters"`
	ResultCount int               `json:"resultCount"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// SavedGrant is a user's bookmark of a grant, keyed by (user, source, externalId).
type SavedGrant struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"userId"`
	Source         Source          `json:"grantSource"`
	ExternalID     string          `json:"externalId"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	FundingBody    string          `json:"fundingBody"`
	AmountMin      *float64        `json:"amountMin,omitempty"`
	AmountMax      *float64        `json:"amountMax,omitempty"`
	Currency       string          `json:"currency"`
	OpenDate       *time.Time      `json:"openDate,omitempty"`
	CloseDate      *time.Time      `json:"closeDate,omitempty"`
	ApplicationURL string          `json:"applicationUrl,omitempty"`
	Categories     []string        `json:"categories"`
	RawData        json.RawMessage `json:"rawData,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}
