package model

// IntegrationClient is an external consumer allowed to subscribe to the
// domain event stream.
type IntegrationClient struct {
	ID     uint64 `gorm:"primaryKey"`
	AppID  string `gorm:"size:64;not null"`
	APIKey string `gorm:"size:64;not null;uniqueIndex"`
	Status int    `gorm:"default:1"`
}
