package model

import "time"

// ExchangeRequestLog is one row of the append-only outbound request
// audit. Every gateway call is recorded with its payload, response and
// the egress address that carried it.
type ExchangeRequestLog struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Exchange string `gorm:"size:50;index" json:"exchange"`

	Method  string `gorm:"size:10" json:"method"`
	Path    string `gorm:"size:200;index" json:"path"`
	Payload string `gorm:"type:text" json:"payload,omitempty"`

	ResponseCode int    `json:"response_code"`
	ResponseBody string `gorm:"type:text" json:"response_body,omitempty"`
	UsedWeight   int64  `json:"used_weight"`

	Address  string `gorm:"size:100" json:"address"`
	Hostname string `gorm:"size:100" json:"hostname"`

	CreatedAt time.Time `json:"created_at"`
}

func (ExchangeRequestLog) TableName() string {
	return "exchange_request_logs"
}
