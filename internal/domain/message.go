package domain

import (
	"sort"
	"time"
)

type MessageID string

type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type Message struct {
	ID          MessageID    `json:"id"`
	Room        RoomKey      `json:"room"`
	Sender      IdentityID   `json:"sender"`
	SenderName  string       `json:"senderName"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	EditedAt    *time.Time   `json:"editedAt,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// ReactionCount is the only shape reactions leave the core in.
type ReactionCount struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

// Reactions is the per-message emoji -> reactors table.
type Reactions map[string]map[IdentityID]struct{}

// Toggle flips the reaction of id and reports whether it is now set.
func (r Reactions) Toggle(emoji string, id IdentityID) bool {
	set, ok := r[emoji]
	if ok {
		if _, has := set[id]; has {
			delete(set, id)
			if len(set) == 0 {
				delete(r, emoji)
			}
			return false
		}
	} else {
		set = make(map[IdentityID]struct{})
		r[emoji] = set
	}
	set[id] = struct{}{}
	return true
}

func (r Reactions) Counts() []ReactionCount {
	out := make([]ReactionCount, 0, len(r))
	for emoji, set := range r {
		if len(set) == 0 {
			continue
		}
		out = append(out, ReactionCount{Emoji: emoji, Count: len(set)})
	}
	SortReactionCounts(out)
	return out
}

// SortReactionCounts orders by count desc, then emoji.
func SortReactionCounts(rc []ReactionCount) {
	sort.Slice(rc, func(i, j int) bool {
		if rc[i].Count != rc[j].Count {
			return rc[i].Count > rc[j].Count
		}
		return rc[i].Emoji < rc[j].Emoji
	})
}
