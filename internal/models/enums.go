package models

import (
	"fmt"
	"strings"
)

// Direction is a voter's active vote on a post.
type Direction int8

const (
	VoteNone    Direction = 0
	VoteLike    Direction = 1
	VoteDislike Direction = -1
)

func (d Direction) String() string {
	switch d {
	case VoteLike:
		return "like"
	case VoteDislike:
		return "dislike"
	case VoteNone:
		return "none"
	}
	return fmt.Sprintf("direction(%d)", int8(d))
}

// ParseDirection accepts the wire names used by the HTTP API.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "like":
		return VoteLike, nil
	case "dislike":
		return VoteDislike, nil
	case "none", "":
		return VoteNone, nil
	}
	return VoteNone, fmt.Errorf("unknown vote direction %q", s)
}

// Component scopes an event. Values match the event constants used by the
// web client.
type Component uint8

const (
	ComponentContract Component = 0
	ComponentFeed     Component = 1
	ComponentPost     Component = 2
	ComponentComment  Component = 3
)

func (c Component) String() string {
	switch c {
	case ComponentContract:
		return "contract"
	case ComponentFeed:
		return "feed"
	case ComponentPost:
		return "post"
	case ComponentComment:
		return "comment"
	}
	return fmt.Sprintf("component(%d)", uint8(c))
}

// Action is what happened to the scoped entity.
type Action uint8

const (
	ActionMigrator Action = 0
	ActionCreate   Action = 1
	ActionLike     Action = 2
	ActionComment  Action = 3
	ActionEdit     Action = 4
	ActionDelete   Action = 5
	ActionDislike  Action = 6
	ActionFlag     Action = 7
)

func (a Action) String() string {
	switch a {
	case ActionMigrator:
		return "migrator"
	case ActionCreate:
		return "create"
	case ActionLike:
		return "like"
	case ActionComment:
		return "comment"
	case ActionEdit:
		return "edit"
	case ActionDelete:
		return "delete"
	case ActionDislike:
		return "dislike"
	case ActionFlag:
		return "flag"
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// EmptyRef is the content id stored when a post has no text or no media.
const EmptyRef = "0x0000000000000000000000000000000000000000000000000000000000000000"

// IsEmptyRef reports whether ref points at nothing.
func IsEmptyRef(ref string) bool {
	return ref == "" || ref == EmptyRef
}
