package models

import "time"

// RequestLogModel is the GORM row for one gateway request's outcome
//, persisted when ENABLE_SQLITE_LOGGING is
// set.
type RequestLogModel struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	Backend        string `gorm:"index"`
	DecisionReason string
	DurationMS     int64
	InputTokens    int
	OutputTokens   int
	CostUSD        float64
	IsFallback     bool
	Error          string
	CreatedAt      time.Time `gorm:"index"`
}

// TableName pins the table name instead of GORM's pluralization guess.
func (RequestLogModel) TableName() string {
	return "request_logs"
}
