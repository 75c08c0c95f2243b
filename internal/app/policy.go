package app

import (
	"fmt"

	"github.com/dkeye/Agora/internal/core"
	"github.com/dkeye/Agora/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a member whose outbound queue is full.
type Policy interface {
	OnBackPressure(room domain.RoomKey, conn core.ConnID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomKey, core.ConnID) BackpressureAction {
	return KickMember
}

// TolerantPolicy drops the frame for the slow member and keeps it connected.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(domain.RoomKey, core.ConnID) BackpressureAction {
	return NoAction
}

// PolicyByName maps the config value to a Policy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "kick":
		return SimplePolicy{}, nil
	case "tolerate":
		return TolerantPolicy{}, nil
	}
	return nil, fmt.Errorf("unknown backpressure policy %q", name)
}
