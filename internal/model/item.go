package model

// Item is a product to be classified.
type Item struct {
	ID          string          `json:"product_id,omitempty"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       float64         `json:"price,omitempty"`
	PriceRange  string          `json:"priceRange,omitempty"`
	Labels      []DetectedLabel `json:"labels,omitempty"`
}

// Record status values.
const (
	StatusClassified = "classified"
	StatusFailed     = "failed"
)

// Record is the outcome of classifying one Item.
type Record struct {
	Item             Item               `json:"item"`
	Status           string             `json:"status"`
	Error            string             `json:"error,omitempty"`
	BasicDescription string             `json:"basicDescription,omitempty"`
	Attributes       Classification     `json:"attributes,omitempty"`
	Flat             map[string]float64 `json:"flat,omitempty"`
}
