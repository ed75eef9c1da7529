package req

import "time"

type ListGroupsReq struct {
	Classifier string `form:"classifier"`
}

type GroupMessagesReq struct {
	Status string `form:"status"`
}

type CommentReq struct {
	Comment string `json:"comment" binding:"max=1000"`
}

type ResolveReq struct {
	ProcessedAt *time.Time `json:"processed_at"`
}
