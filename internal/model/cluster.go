package model

// Assignment maps an account to its cluster label.
type Assignment struct {
	AccountID string `json:"account_id" csv:"ACCOUNT_ID"`
	Cluster   int    `json:"cluster" csv:"cluster"`
}

// ClusterProfile is one cluster's normalized mean preference per category.
type ClusterProfile struct {
	Cluster     int                `json:"cluster"`
	Accounts    int                `json:"accounts"`
	Preferences map[string]float64 `json:"preferences"` // sums to 1 across categories
}

// Selection is the model-selection score for one cluster count.
// Silhouette is NaN when it is undefined for K.
type Selection struct {
	K          int     `json:"k"`
	Inertia    float64 `json:"inertia"`
	Silhouette float64 `json:"silhouette"`
}

// KSResult is a two-sample Kolmogorov-Smirnov comparison of one cluster's
// preference scores against the whole population.
type KSResult struct {
	Cluster   int     `json:"cluster"`
	Statistic float64 `json:"ks_stat"`
	PValue    float64 `json:"p_value"`
}
