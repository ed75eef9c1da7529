package model

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type FailedMessageStatus string

const (
	StatusUnresolved  FailedMessageStatus = "unresolved"
	StatusRetryIssued FailedMessageStatus = "retryIssued"
	StatusResolved    FailedMessageStatus = "resolved"
	StatusArchived    FailedMessageStatus = "archived"
)

func (s FailedMessageStatus) IsValid() bool {
	switch s {
	case StatusUnresolved, StatusRetryIssued, StatusResolved, StatusArchived:
		return true
	}
	return false
}

// FailureView is the read-only classification of a failed message by its
// number of attempts. It is never persisted.
type FailureView string

const (
	ViewFailed          FailureView = "failed"
	ViewRepeatedFailure FailureView = "repeatedFailure"
)

var failedMessageNamespace = uuid.MustParse("6c3f2a1e-9d4b-5e7f-8a2c-1b0d9e8f7a6b")

// FailedMessageID derives the aggregate id from the message's unique business
// id. Every instance computes the same id for the same message.
func FailedMessageID(uniqueMessageID string) string {
	return uuid.NewSHA1(failedMessageNamespace, []byte(uniqueMessageID)).String()
}

type FailureDetails struct {
	ExceptionType            string    `json:"exception_type" gorm:"size:512"`
	ExceptionMessage         string    `json:"exception_message" gorm:"type:text"`
	ExceptionSource          string    `json:"exception_source" gorm:"size:512"`
	StackTrace               string    `json:"stack_trace" gorm:"type:mediumtext"`
	AddressOfFailingEndpoint string    `json:"address_of_failing_endpoint" gorm:"size:255"`
	TimeOfFailure            time.Time `json:"time_of_failure" gorm:"precision:6"`
}

type MessageMetadata struct {
	MessageType       string    `json:"message_type" gorm:"size:512"`
	ContentType       string    `json:"content_type" gorm:"size:128"`
	SendingEndpoint   string    `json:"sending_endpoint" gorm:"size:255"`
	ReceivingEndpoint string    `json:"receiving_endpoint" gorm:"size:255"`
	ReceivingHost     string    `json:"receiving_host" gorm:"size:255"`
	ReceivingHostID   string    `json:"receiving_host_id" gorm:"size:64"`
	TimeSent          time.Time `json:"time_sent"`
}

type ProcessingAttempt struct {
	ID              uint64            `json:"-" gorm:"primaryKey"`
	FailedMessageID string            `json:"-" gorm:"size:36;uniqueIndex:idx_attempt_seq"`
	Seq             int               `json:"seq" gorm:"uniqueIndex:idx_attempt_seq"`
	MessageID       string            `json:"message_id" gorm:"size:255"`
	Headers         map[string]string `json:"headers" gorm:"serializer:json;type:mediumtext"`
	FailureDetails  FailureDetails    `json:"failure_details" gorm:"embedded;embeddedPrefix:failure_"`
	MessageMetadata MessageMetadata   `json:"message_metadata" gorm:"embedded;embeddedPrefix:meta_"`
	BodyRef         string            `json:"body_ref" gorm:"size:128"`
}

// FailedMessage is the aggregate holding every recorded failure of one
// logical message. ProcessingAttempts is append-only.
type FailedMessage struct {
	ID                 string              `json:"id" gorm:"primaryKey;size:36"`
	UniqueMessageID    string              `json:"unique_message_id" gorm:"size:255;uniqueIndex"`
	Status             FailedMessageStatus `json:"status" gorm:"size:16;index"`
	ReceivingEndpoint  string              `json:"receiving_endpoint" gorm:"size:255;index"`
	FailingAddress     string              `json:"failing_address" gorm:"size:255;index"`
	MessageType        string              `json:"message_type" gorm:"size:512"`
	TimeOfFailure      time.Time           `json:"time_of_failure" gorm:"precision:6"`
	ResolvedAt         *time.Time          `json:"resolved_at,omitempty" gorm:"precision:6"`
	LastModified       time.Time           `json:"last_modified" gorm:"precision:6;index"`
	Version            int64               `json:"version"`
	ProcessingAttempts []ProcessingAttempt `json:"processing_attempts" gorm:"foreignKey:FailedMessageID"`
	FailureGroups      []FailureGroup      `json:"failure_groups" gorm:"foreignKey:FailedMessageID"`
}

func (m *FailedMessage) LastAttempt() *ProcessingAttempt {
	if len(m.ProcessingAttempts) == 0 {
		return nil
	}
	return &m.ProcessingAttempts[len(m.ProcessingAttempts)-1]
}

func (m *FailedMessage) View() FailureView {
	if len(m.ProcessingAttempts) > 1 {
		return ViewRepeatedFailure
	}
	return ViewFailed
}

// AppendAttempt adds a at the end of the history and refreshes the
// denormalized query columns from it.
func (m *FailedMessage) AppendAttempt(a ProcessingAttempt) {
	a.FailedMessageID = m.ID
	a.Seq = len(m.ProcessingAttempts) + 1
	m.ProcessingAttempts = append(m.ProcessingAttempts, a)

	m.TimeOfFailure = a.FailureDetails.TimeOfFailure
	m.FailingAddress = a.FailureDetails.AddressOfFailingEndpoint
	m.ReceivingEndpoint = a.MessageMetadata.ReceivingEndpoint
	m.MessageType = a.MessageMetadata.MessageType
}

func (m *FailedMessage) HasGroup(groupID string) bool {
	for _, g := range m.FailureGroups {
		if g.GroupID == groupID || (g.LegacyGroupID != "" && g.LegacyGroupID == groupID) {
			return true
		}
	}
	return false
}

// AddGroups extends the memberships with groups not yet present and reports
// whether anything was added.
func (m *FailedMessage) AddGroups(groups []FailureGroup) bool {
	added := false
	for _, g := range groups {
		if m.HasGroup(g.GroupID) {
			continue
		}
		g.FailedMessageID = m.ID
		m.FailureGroups = append(m.FailureGroups, g)
		added = true
	}
	return added
}

func (m *FailedMessage) GroupIDs() []string {
	ids := make([]string, 0, len(m.FailureGroups))
	for _, g := range m.FailureGroups {
		ids = append(ids, g.GroupID)
	}
	return ids
}

// Clone returns a deep copy so stores never share state with callers.
func (m *FailedMessage) Clone() *FailedMessage {
	c := *m
	if m.ResolvedAt != nil {
		t := *m.ResolvedAt
		c.ResolvedAt = &t
	}
	c.ProcessingAttempts = make([]ProcessingAttempt, len(m.ProcessingAttempts))
	for i, a := range m.ProcessingAttempts {
		if a.Headers != nil {
			h := make(map[string]string, len(a.Headers))
			for k, v := range a.Headers {
				h[k] = v
			}
			a.Headers = h
		}
		c.ProcessingAttempts[i] = a
	}
	c.FailureGroups = slices.Clone(m.FailureGroups)
	return &c
}
