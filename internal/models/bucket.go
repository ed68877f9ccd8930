package models

import "fmt"

// Bucket is a market-local trade size class.
type Bucket int

const (
	Small Bucket = iota
	Medium
	Large
	Whale
)

// PreferenceOrder is the order in which bucket subsets are tried when a
// single market-wide value (such as the price anchor) must come from one of them.
var PreferenceOrder = []Bucket{Small, Medium, Large, Whale}

// ColumnOrder is the column order of the merged panel.
var ColumnOrder = []Bucket{Whale, Large, Medium, Small}

func (b Bucket) String() string {
	switch b {
	case Small:
		return "Small"
	case Medium:
		return "Medium"
	case Large:
		return "Large"
	case Whale:
		return "Whale"
	default:
		return fmt.Sprintf("Bucket(%d)", int(b))
	}
}

// FileStem is the lowercase name used for output files ("small", "whale", ...).
func (b Bucket) FileStem() string {
	switch b {
	case Small:
		return "small"
	case Medium:
		return "medium"
	case Large:
		return "large"
	case Whale:
		return "whale"
	default:
		return fmt.Sprintf("bucket%d", int(b))
	}
}

// Column is the merged panel column holding this bucket's probability.
func (b Bucket) Column() string {
	return "p_" + b.FileStem()
}

// ParseBucket maps a segment label back to its Bucket.
func ParseBucket(s string) (Bucket, error) {
	for _, b := range PreferenceOrder {
		if b.String() == s {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown segment %q", s)
}
