package events

// Gateway event types written to the outbox.
const (
	EventCreditsDebited = "credits.debited"
	EventCreditsGranted = "credits.granted"
	EventAlertRaised    = "alert.raised"
)

// CreditsDebitedPayload describes a committed usage debit.
type CreditsDebitedPayload struct {
	TransactionID string `json:"transaction_id"`
	UsageLogID    string `json:"usage_log_id"`
	FeatureID     string `json:"feature_id"`
	UserID        string `json:"user_id"`
	Amount        int64  `json:"amount"`
	BalanceAfter  int64  `json:"balance_after"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p CreditsDebitedPayload) ToMap() map[string]any {
	return map[string]any{
		"transaction_id": p.TransactionID,
		"usage_log_id":   p.UsageLogID,
		"feature_id":     p.FeatureID,
		"user_id":        p.UserID,
		"amount":         p.Amount,
		"balance_after":  p.BalanceAfter,
	}
}

type CreditsGrantedPayload struct {
	TransactionID   string `json:"transaction_id"`
	TransactionType string `json:"transaction_type"`
	Amount          int64  `json:"amount"`
	BalanceAfter    int64  `json:"balance_after"`
}

func (p CreditsGrantedPayload) ToMap() map[string]any {
	return map[string]any{
		"transaction_id":   p.TransactionID,
		"transaction_type": p.TransactionType,
		"amount":           p.Amount,
		"balance_after":    p.BalanceAfter,
	}
}

type AlertRaisedPayload struct {
	AlertID   string `json:"alert_id"`
	AlertType string `json:"alert_type"`
	Severity  string `json:"severity"`
}

func (p AlertRaisedPayload) ToMap() map[string]any {
	return map[string]any{
		"alert_id":   p.AlertID,
		"alert_type": p.AlertType,
		"severity":   p.Severity,
	}
}
