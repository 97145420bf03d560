package cache

import "context"

// Like set kinds, one Redis set per user and kind.
const (
	KindArticle = "article"
	KindComment = "comment"
	KindTalk    = "talk"
)

// LikeCache reads what each user has liked. The article and comment
// services write the sets.
type LikeCache interface {
	Liked(ctx context.Context, kind, userID string) ([]string, error)
}
