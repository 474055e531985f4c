package models

// Lookup is the result of fetching a post by id: either Present or Deleted.
// Callers switch on the concrete type instead of testing a zero timestamp.
type Lookup interface {
	lookup()
}

// Present wraps a live post.
type Present struct {
	Post Post
}

// Deleted wraps the tombstone of a soft-deleted post. The record is still
// returned so permalinks can render "this post was removed".
type Deleted struct {
	Post Post
}

func (Present) lookup() {}
func (Deleted) lookup() {}

// Live returns the post and true only for Present.
func Live(l Lookup) (Post, bool) {
	if p, ok := l.(Present); ok {
		return p.Post, true
	}
	return Post{}, false
}

// Record returns the underlying post for either variant.
func Record(l Lookup) Post {
	switch v := l.(type) {
	case Present:
		return v.Post
	case Deleted:
		return v.Post
	}
	return Post{}
}
