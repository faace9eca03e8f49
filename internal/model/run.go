package model

import "time"

// RunStatus represents the current state of a segmentation run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is the persisted summary of one batch segmentation run.
type Run struct {
	ID            string    `json:"id"`
	Status        RunStatus `json:"status"`
	CustomersPath string    `json:"customers_path"`
	OrdersPath    string    `json:"orders_path"`
	K             int       `json:"k"`
	Accounts      int       `json:"accounts"`
	Rows          int       `json:"rows"`
	Conflicts     int       `json:"conflicts"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsTerminal reports whether the run has finished, successfully or not.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusComplete || s == RunStatusFailed
}
