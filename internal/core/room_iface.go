package core

import "github.com/dkeye/Agora/internal/domain"

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []ConnID
}

type RoomInfo struct {
	Key         domain.RoomKey `json:"room"`
	MemberCount int            `json:"memberCount"`
}
