package model

// IpWeightRecord is the rolling request-weight counter for one egress
// address on one exchange, windowed at minute granularity. Records are
// ephemeral, self-healing caches: absent rows are created on demand.
type IpWeightRecord struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Exchange string `gorm:"size:50;uniqueIndex:idx_ip_weight" json:"exchange"`
	Address  string `gorm:"size:100;uniqueIndex:idx_ip_weight" json:"address"`

	CurrentWeight int64 `gorm:"not null;default:0" json:"current_weight"`
	LastResetAt   int64 `gorm:"not null;default:0" json:"last_reset_at"` // epoch millis
}

func (IpWeightRecord) TableName() string {
	return "ip_weights"
}

// EndpointWeightRecord is the learned request cost of one exchange
// path, defaulting to 1 and refined from observed response headers.
type EndpointWeightRecord struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Exchange string `gorm:"size:50;uniqueIndex:idx_endpoint_weight" json:"exchange"`
	Path     string `gorm:"size:200;uniqueIndex:idx_endpoint_weight" json:"path"`

	Weight int64 `gorm:"not null;default:1" json:"weight"`
}

func (EndpointWeightRecord) TableName() string {
	return "endpoint_weights"
}
