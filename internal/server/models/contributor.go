// Package models defines data models persisted in the database.
package models

import "time"

// Contributor is a person recording sentences, bound to one corpus account.
// Credential fields hold sealed bytes, never plaintext tokens.
type Contributor struct {
	ID           string
	CorpusUserID string
	Email        string
	Username     string

	// CurrentLanguage is "" until /setup picks one.
	CurrentLanguage string
	Age             string
	Gender          string

	SealedAccessToken  []byte
	AccessTokenExpires *time.Time
	SealedRefreshToken []byte
	CredentialFailures int
	CredentialError    string

	// CurrentBatchID is "" when no batch was ever drawn.
	CurrentBatchID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatBinding maps an opaque messaging identity to the active contributor.
type ChatBinding struct {
	ChatID        string
	ContributorID string
	BoundAt       time.Time
}
