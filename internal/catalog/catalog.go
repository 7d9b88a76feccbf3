// Package catalog holds the product-feed helpers that shape raw listings
// into classifiable items.
package catalog

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// NoTitle is returned by SlugToTitle for an empty slug.
const NoTitle = "No title available"

var priceBrackets = []struct {
	below float64
	label string
}{
	{10, "0-10"},
	{40, "10-40"},
	{100, "40-100"},
	{200, "100-200"},
	{300, "200-300"},
}

// PriceRange buckets a price. Upper bounds are exclusive.
func PriceRange(price float64) string {
	for _, b := range priceBrackets {
		if price < b.below {
			return b.label
		}
	}
	return "300+"
}

// SlugToTitle turns a listing slug such as "seller-red-wool-coat" into
// "Red wool coat". The leading segment names the seller and is dropped.
func SlugToTitle(slug string) string {
	if slug == "" {
		return NoTitle
	}
	parts := strings.Split(strings.ReplaceAll(slug, "_", "-"), "-")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	title := strings.Join(parts, " ")
	r, size := utf8.DecodeRuneInString(title)
	if r == utf8.RuneError {
		return title
	}
	return string(unicode.ToUpper(r)) + title[size:]
}

// DescribeFallback builds a description for listings that have none.
func DescribeFallback(brand, country string) string {
	if brand == "" {
		brand = "Unknown"
	}
	if country == "" {
		country = "Unknown"
	}
	return "Brand: " + brand + ", Country: " + country
}
