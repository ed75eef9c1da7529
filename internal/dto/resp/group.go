package resp

import (
	"time"

	"recoverflow/internal/model"
)

type GroupListResp struct {
	Data []model.GroupSummary `json:"data"`
}

type GroupMessagesResp struct {
	GroupID string   `json:"group_id"`
	Status  string   `json:"status,omitempty"`
	IDs     []string `json:"failed_message_ids"`
}

type ArchiveResp struct {
	GroupID          string    `json:"group_id"`
	GroupName        string    `json:"group_name"`
	CutOff           time.Time `json:"cut_off"`
	MessagesCount    int       `json:"messages_count"`
	FailedMessageIDs []string  `json:"failed_message_ids"`
}

type FailedMessageResp struct {
	*model.FailedMessage
	View model.FailureView `json:"view"`
}

type ResolveResp struct {
	Changed bool `json:"changed"`
}
