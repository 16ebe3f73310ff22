package model

import "github.com/dukerupert/chatvault/internal/month"

// DirectMessagesID is the source ID that selects the token owner's direct messages.
const DirectMessagesID = "@me"

type SourceKind string

const (
	SourceKindGuild SourceKind = "guild"
	SourceKindDM    SourceKind = "dm"
)

// Source is a single chat collection to archive, as resolved from configuration.
type Source struct {
	ID            string
	Name          string
	StartMonth    month.Month
	ThrottleHours float64
	TokenName     string
	Token         string
	Kind          SourceKind
}

// IsDirectMessages reports whether the source exports direct messages.
func (s Source) IsDirectMessages() bool {
	return s.Kind == SourceKindDM
}
