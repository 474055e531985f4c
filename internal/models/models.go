package models

import (
	"time"

	"gorm.io/gorm"
)

// Post is a single feed entry as stored by the ledger.
//
// CreatedAt is unix seconds. A deleted post keeps its row (and its id) but
// carries a DeletedAt timestamp; gorm's soft-delete scope hides it from
// every listing query.
type Post struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Author     string         `gorm:"not null;index" json:"author"`
	ContentRef string         `gorm:"not null" json:"contentRef"`
	MediaRef   string         `gorm:"not null" json:"mediaRef"`
	CreatedAt  int64          `gorm:"not null;index" json:"createdAt"`
	Likes      int64          `gorm:"not null;default:0" json:"likes"`
	Dislikes   int64          `gorm:"not null;default:0" json:"dislikes"`
	Comments   int64          `gorm:"not null;default:0" json:"comments"`
	Weight     int64          `gorm:"not null;index" json:"weight"`
	Flagged    bool           `gorm:"not null;default:false" json:"flagged"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`

	// Per-viewer fields, filled in relative to the caller.
	Liked    bool `gorm:"-" json:"liked"`
	Disliked bool `gorm:"-" json:"disliked"`
}

// Vote is the (voter, post) relation. Retracted votes keep their row with
// Direction set to VoteNone.
type Vote struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	PostID    uint64    `gorm:"not null;uniqueIndex:idx_votes_post_voter" json:"postId"`
	Voter     string    `gorm:"not null;uniqueIndex:idx_votes_post_voter" json:"voter"`
	Direction Direction `gorm:"not null;default:0" json:"direction"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Comment belongs to a post and follows the same soft-delete convention.
type Comment struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	PostID     uint64         `gorm:"not null;index" json:"postId"`
	Author     string         `gorm:"not null;index" json:"author"`
	ContentRef string         `gorm:"not null" json:"contentRef"`
	CreatedAt  int64          `gorm:"not null" json:"createdAt"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// WeightConfig holds the ranking knobs. The ledger keeps exactly one row.
type WeightConfig struct {
	ID                       uint      `gorm:"primaryKey" json:"-"`
	LikesWeightMultiplier    int64     `gorm:"not null" json:"likesWeightMultiplier"`
	DislikesWeightMultiplier int64     `gorm:"not null" json:"dislikesWeightMultiplier"`
	OldWeightMultiplier      int64     `gorm:"not null" json:"oldWeightMultiplier"`
	WeightThreshold          int64     `gorm:"not null" json:"weightThreshold"`
	InitialWeight            int64     `gorm:"not null" json:"initialWeight"`
	UpdatedAt                time.Time `json:"updatedAt"`
}

// Event is one row of the ledger's outbox. Seq is the polling cursor.
type Event struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement" json:"seq"`
	Component Component `gorm:"not null;index" json:"component"`
	Action    Action    `gorm:"not null" json:"action"`
	EntityID  uint64    `gorm:"not null;index" json:"id"`
	From      string    `gorm:"not null" json:"from"`
	Timestamp int64     `gorm:"not null" json:"timestamp"`
}

// Blob is a content-addressed payload for the database-backed blob store.
type Blob struct {
	ID        string    `gorm:"primaryKey;size:66" json:"id"`
	Data      []byte    `gorm:"not null" json:"-"`
	Size      int       `gorm:"not null" json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}
