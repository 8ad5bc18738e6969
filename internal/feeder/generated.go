package feeder

import (
	"fmt"
	"strconv"
)

// GeneratedFeeder cycles through tenant-1 .. tenant-N.
type GeneratedFeeder struct {
	*roundRobin
}

// NewGenerated creates n synthetic tenants.
func NewGenerated(n int) (*GeneratedFeeder, error) {
	if n < 1 {
		return nil, fmt.Errorf("generated feeder needs at least one tenant, got %d", n)
	}
	records := make([]Record, n)
	for i := range records {
		records[i] = Record{"tenant": "tenant-" + strconv.Itoa(i+1)}
	}
	rr, err := newRoundRobin(records)
	if err != nil {
		return nil, err
	}
	return &GeneratedFeeder{rr}, nil
}
