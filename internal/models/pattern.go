package models

import "time"

// FailurePattern is one cluster of suspicious readings found by the pattern miner.
type FailurePattern struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	DominantFeature string    `json:"dominantFeature"`
	Centroid        []float64 `json:"centroid"`
	Size            int       `json:"size"`
	Prevalence      float64   `json:"prevalence"`
	MinedAt         time.Time `json:"minedAt"`
}
