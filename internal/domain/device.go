package domain

// DeviceStatus 设备状态记录（last-write-wins，不保留历史）
type DeviceStatus struct {
	DeviceID  string `json:"deviceId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"` // RFC3339
}

// VitalsUpdate 实时通道 healthData/vitals 的整值消息
type VitalsUpdate struct {
	HeartRate float64 `json:"heartRate"`
	SpO2      float64 `json:"SpO2"`
	Timestamp string  `json:"timestamp"`
}

// WeightUpdate 实时通道 healthData/weight 的整值消息
type WeightUpdate struct {
	Weight    float64 `json:"weight"`
	Timestamp string  `json:"timestamp"`
}
