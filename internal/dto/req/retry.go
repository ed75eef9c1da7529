package req

import "time"

// CutOff bounds a bulk request to messages last modified at or before it.
// Omitted means the time the request is handled.
type CutOffReq struct {
	CutOff *time.Time `json:"cut_off"`
}

func (r CutOffReq) Time() time.Time {
	if r.CutOff == nil {
		return time.Time{}
	}
	return *r.CutOff
}

type RetryMessagesReq struct {
	MessageIDs []string `json:"message_ids" binding:"required,min=1,dive,required"`
}

type RetryEndpointReq struct {
	CutOffReq
	Endpoint string `json:"endpoint" binding:"required"`
}

type RetryQueueReq struct {
	CutOffReq
	QueueAddress string `json:"queue_address" binding:"required"`
}

type ListOperationsReq struct {
	Active bool `form:"active"`
	Limit  int  `form:"limit" binding:"omitempty,min=1,max=500"`
}

type AcknowledgeReq struct {
	RetryType string `json:"retry_type" binding:"required"`
}
