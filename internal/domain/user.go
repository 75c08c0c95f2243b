// Package domain contains entities and their state machines, no transport or storage.
package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxIdentityLen    = 64
	MaxDisplayNameLen = 64

	guestPrefix = "guest:"
)

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

type (
	IdentityID  string
	CommunityID string
)

// IdentityKind tells a regular member apart from a community operator.
type IdentityKind int

const (
	Member IdentityKind = iota
	CommunityOperator
)

func (k IdentityKind) String() string {
	switch k {
	case Member:
		return "member"
	case CommunityOperator:
		return "operator"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k IdentityKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func ParseIdentityKind(s string) (IdentityKind, error) {
	switch strings.ToLower(s) {
	case "member", "":
		return Member, nil
	case "operator", "community_operator":
		return CommunityOperator, nil
	default:
		return Member, fmt.Errorf("unknown identity kind %q", s)
	}
}

// Account is what the identity collaborator knows about a participant.
type Account struct {
	ID          IdentityID   `json:"id"`
	Kind        IdentityKind `json:"kind"`
	DisplayName string       `json:"displayName"`
	// CommunityID is the community an operator runs. Empty for members.
	CommunityID   CommunityID   `json:"communityId,omitempty"`
	Suspended     bool          `json:"suspended"`
	Communities   []CommunityID `json:"communities,omitempty"`
	Conversations []string      `json:"conversations,omitempty"`
}

// NewGuest builds the anonymous account used when fallback is enabled.
// A stable client token keeps the guest id stable across reconnects.
func NewGuest(clientToken string) *Account {
	if clientToken == "" {
		clientToken = uuid.NewString()
	}
	return &Account{
		ID:          IdentityID(guestPrefix + clientToken),
		Kind:        Member,
		DisplayName: "guest",
	}
}

func (id IdentityID) IsGuest() bool { return strings.HasPrefix(string(id), guestPrefix) }

// BelongsTo reports whether the account is attached to the community,
// either as its operator or as a listed member.
func (a *Account) BelongsTo(c CommunityID) bool {
	if a.CommunityID != "" && a.CommunityID == c {
		return true
	}
	return slices.Contains(a.Communities, c)
}

func (a *Account) InConversation(id string) bool {
	return slices.Contains(a.Conversations, id)
}

// NormalizeDisplayName trims the name and checks its bounds.
func NormalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if len(name) == 0 {
		return "", ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return "", ErrDisplayNameTooLong
	}
	return name, nil
}
