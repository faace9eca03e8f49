package model

// Preference is one (account, category) row of the feature table.
type Preference struct {
	AccountID       string  `json:"account_id" csv:"ACCOUNT_ID"`
	Category        string  `json:"category" csv:"New Category"`
	Frequency       int     `json:"frequency" csv:"frequency"`
	AverageRecency  float64 `json:"average_recency" csv:"average_recency"`
	WeightedRecency float64 `json:"weighted_recency" csv:"weighted_recency"`
	PreferenceScore float64 `json:"preference_score" csv:"preference_score"`
}
