package domain

import (
	"fmt"
	"time"
)

type RequestID string

type ModerationState int

const (
	ModerationPending ModerationState = iota
	ModerationApproved
	ModerationRejected
)

func (s ModerationState) String() string {
	switch s {
	case ModerationPending:
		return "pending"
	case ModerationApproved:
		return "approved"
	case ModerationRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s ModerationState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type ReviewDecision int

const (
	DecisionApprove ReviewDecision = iota
	DecisionReject
)

func (d ReviewDecision) String() string {
	if d == DecisionApprove {
		return "approve"
	}
	return "reject"
}

// Only Pending has outgoing edges; Approved and Rejected are terminal.
var moderationTransitions = map[ModerationState]map[ReviewDecision]ModerationState{
	ModerationPending: {
		DecisionApprove: ModerationApproved,
		DecisionReject:  ModerationRejected,
	},
}

func (s ModerationState) Next(d ReviewDecision) (ModerationState, error) {
	next, ok := moderationTransitions[s][d]
	if !ok {
		return s, Errorf(KindConflict, "request already %s", s)
	}
	return next, nil
}

type Permissions struct {
	Video bool `json:"video"`
	Audio bool `json:"audio"`
}

type ModerationRequest struct {
	ID            RequestID       `json:"id"`
	SessionID     SessionID       `json:"sessionId"`
	Requester     IdentityID      `json:"requester"`
	RequesterName string          `json:"requesterName"`
	Requested     Permissions     `json:"requestedPermissions"`
	Note          string          `json:"note,omitempty"`
	State         ModerationState `json:"state"`
	ReviewedBy    IdentityID      `json:"reviewedBy,omitempty"`
	ReviewNote    string          `json:"reviewNote,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	ReviewedAt    *time.Time      `json:"reviewedAt,omitempty"`
}

func (s *ModerationState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "pending":
		*s = ModerationPending
	case "approved":
		*s = ModerationApproved
	case "rejected":
		*s = ModerationRejected
	default:
		return fmt.Errorf("unknown moderation state %q", b)
	}
	return nil
}

// Review is the single place a request changes state.
func (r *ModerationRequest) Review(d ReviewDecision, reviewer IdentityID, note string, at time.Time) error {
	next, err := r.State.Next(d)
	if err != nil {
		return err
	}
	r.State = next
	r.ReviewedBy = reviewer
	r.ReviewNote = note
	r.ReviewedAt = &at
	return nil
}
