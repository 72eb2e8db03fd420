package domain

import (
	"math"
	"time"
)

// User 注册用户领域模型（对应 users 表）
type User struct {
	// 主键
	UserID string `db:"user_id" json:"userId"` // UUID, PRIMARY KEY, immutable

	// 个人资料（注册后不可变）
	FirstName     string  `db:"first_name" json:"firstName"`
	LastName      string  `db:"last_name" json:"lastName"`
	Email         string  `db:"email" json:"email"`
	Age           int     `db:"age" json:"age"`
	ContactNumber string  `db:"contact_number" json:"contactNumber"`
	Gender        string  `db:"gender" json:"gender"`
	HeightCM      float64 `db:"height_cm" json:"height"` // 身高（cm），用于 BMI 计算

	// 月度提醒开关
	Remind bool `db:"remind" json:"remind"`

	// 当前健康状态（JSONB，仅由提交网关修改）
	HealthStatus HealthStatus `db:"health_status" json:"healthStatus"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// HealthStatus 当前健康状态子文档
// 字段各自独立可空：缺失的输入字段不覆盖已存储的值
type HealthStatus struct {
	HeartRate    *float64 `json:"heartRate"`
	SpO2         *float64 `json:"spO2"`
	Weight       *float64 `json:"weight"`
	BMI          *float64 `json:"bmi"`
	LastAnalysis *string  `json:"lastAnalysis"`
}

// Reading 一次提交的原始读数（至少一个字段存在）
type Reading struct {
	HeartRate *float64 `json:"heartRate,omitempty"`
	SpO2      *float64 `json:"SpO2,omitempty"`
	Weight    *float64 `json:"weight,omitempty"`
}

// IsEmpty 是否不含任何读数
func (r Reading) IsEmpty() bool {
	return r.HeartRate == nil && r.SpO2 == nil && r.Weight == nil
}

// Overlay applies the reading on top of the stored status, field by field.
// Fields absent from the reading keep their previously stored values.
// BMI is recomputed when an incoming weight and a known height are both
// present, otherwise the stored BMI is kept.
func (h HealthStatus) Overlay(r Reading, heightCM float64, analysis *string) HealthStatus {
	out := h
	if r.HeartRate != nil {
		out.HeartRate = r.HeartRate
	}
	if r.SpO2 != nil {
		out.SpO2 = r.SpO2
	}
	if r.Weight != nil {
		out.Weight = r.Weight
		if heightCM > 0 {
			m := heightCM / 100
			bmi := math.Round(*r.Weight/(m*m)*100) / 100
			out.BMI = &bmi
		}
	}
	if analysis != nil {
		out.LastAnalysis = analysis
	}
	return out
}
