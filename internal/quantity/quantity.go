// Package quantity converts CPU and memory quantities between cluster string
// forms ("500m", "2", "4Gi") and numeric cores/bytes. Every component that
// reasons about capacity goes through this codec.
package quantity

import (
	"fmt"

	"k8s.io/apimachinery/pkg/api/resource"
)

// ParseCPU parses a CPU quantity string into cores ("500m" -> 0.5, "2" -> 2).
func ParseCPU(s string) (float64, error) {
	q, err := resource.ParseQuantity(s)
	if err != nil {
		return 0, fmt.Errorf("invalid cpu quantity %q: %w", s, err)
	}
	return float64(q.MilliValue()) / 1000, nil
}

// ParseMemory parses a memory quantity string into bytes ("4Gi" -> 4<<30).
func ParseMemory(s string) (int64, error) {
	q, err := resource.ParseQuantity(s)
	if err != nil {
		return 0, fmt.Errorf("invalid memory quantity %q: %w", s, err)
	}
	return q.Value(), nil
}

// FormatCPU formats cores back into a canonical quantity string. Whole core
// counts render without a milli suffix ("2"), fractional ones with it
// ("500m").
func FormatCPU(cores float64) string {
	milli := int64(cores*1000 + 0.5)
	q := resource.NewMilliQuantity(milli, resource.DecimalSI)
	return q.String()
}

// FormatMemory formats bytes into a binary-suffixed quantity string
// ("4Gi", "512Mi").
func FormatMemory(bytes int64) string {
	q := resource.NewQuantity(bytes, resource.BinarySI)
	return q.String()
}

// CoresFromQuantity converts an already-parsed quantity into cores.
func CoresFromQuantity(q resource.Quantity) float64 {
	return float64(q.MilliValue()) / 1000
}

// BytesFromQuantity converts an already-parsed quantity into bytes.
func BytesFromQuantity(q resource.Quantity) int64 {
	return q.Value()
}

// MustParse parses a quantity string and panics on failure. Reserved for
// configuration defaults validated at startup.
func MustParse(s string) resource.Quantity {
	return resource.MustParse(s)
}
