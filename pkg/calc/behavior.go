package calc

import "strings"

// BehaviorV1 scores the comma-separated behavior tags of a day as a weighted
// sum. Unknown tags score zero rather than erroring, so new habits can be
// logged before a calculator version knows about them.
type BehaviorV1 struct {
	weights map[string]float64
}

// NewBehaviorV1 creates the v1 behavior calculator with its fixed weights.
func NewBehaviorV1() *BehaviorV1 {
	return &BehaviorV1{weights: map[string]float64{
		"read":      3,
		"exercise":  2,
		"meditate":  2,
		"journal":   1,
		"phone":     -2,
		"junkfood":  -1,
		"oversleep": -1,
	}}
}

// Calculate sums the weight of each logged behavior tag.
func (c *BehaviorV1) Calculate(in Input) (Result, error) {
	res := Result{Details: make(map[string]float64)}
	raw := in.Fields["behaviors"]
	if raw == "" {
		return res, nil
	}

	for _, tag := range strings.Split(raw, ",") {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		w := c.weights[tag]
		res.Details[tag] = w
		res.Total += w
	}
	return res, nil
}

// Metadata implements Calculator.
func (c *BehaviorV1) Metadata() Metadata {
	return Metadata{
		Domain:      "behavior",
		Version:     "v1",
		Description: "weighted sum over logged behavior tags",
	}
}

var _ Calculator = (*BehaviorV1)(nil)
