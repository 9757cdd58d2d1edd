package telemetry

import "time"

// Fraud evaluation audit
type FraudEvent struct {
	Timestamp time.Time `json:"@timestamp"`
	Signal    string    `json:"signal"` // email, phone, ip
	Value     string    `json:"value"`
	Score     int       `json:"score"`
	IsFraud   bool      `json:"is_fraud"`
	Reasons   []string  `json:"reasons,omitempty"`
	Degraded  bool      `json:"degraded,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Decision  string    `json:"decision,omitempty"` // allow, block, auto_block
}

// OTP lifecycle audit
type OTPAuditEvent struct {
	Timestamp time.Time `json:"@timestamp"`
	Action    string    `json:"action"` // issued, verified, mismatch, expired, exhausted, superseded
	Purpose   string    `json:"purpose"`
	Subject   string    `json:"subject"`
	OTPID     string    `json:"otp_id,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}
