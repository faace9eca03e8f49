package model

import "time"

// Source column names shared by the customer and order extracts.
const (
	ColAccountID        = "ACCOUNT_ID"
	ColOrderID          = "ORDER_ID"
	ColOrderTimestamp   = "ORDER_TIMESTAMP"
	ColOrderMethod      = "ORDER_METHOD"
	ColMerchantCategory = "MERCHANT_CATEGORY"
	ColOrderAmount      = "ORDER_AMOUNT"
	ColNewCategory      = "New Category"
)

// Customer is one account row from the customer extract.
type Customer struct {
	AccountID string            `json:"account_id"`
	Fields    map[string]string `json:"fields,omitempty"` // demographic/device columns, verbatim
}

// Order is one transaction. Category holds the remapped "New Category" and is
// empty until a taxonomy has been applied.
type Order struct {
	OrderID          string    `json:"order_id" csv:"ORDER_ID"`
	AccountID        string    `json:"account_id" csv:"ACCOUNT_ID"`
	Timestamp        time.Time `json:"order_timestamp" csv:"ORDER_TIMESTAMP"`
	Method           string    `json:"order_method" csv:"ORDER_METHOD"`
	MerchantCategory string    `json:"merchant_category" csv:"MERCHANT_CATEGORY"`
	Category         string    `json:"new_category,omitempty" csv:"New Category,omitempty"`
	Amount           float64   `json:"order_amount" csv:"ORDER_AMOUNT"` // NaN when the source cell was empty
}

// Purchase is the joined order row consumed by feature engineering.
type Purchase struct {
	AccountID string
	Category  string
	Timestamp time.Time
}

// DuplicateConflict describes an order id whose duplicate rows disagree on
// fields that should be constant. Values maps column name to the distinct
// values seen, in source order.
type DuplicateConflict struct {
	OrderID string              `json:"order_id"`
	Rows    int                 `json:"rows"`
	Values  map[string][]string `json:"values"`
}
