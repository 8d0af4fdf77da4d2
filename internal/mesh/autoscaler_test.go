package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAutoscalerRecommendsScaleUpAboveThreshold(t *testing.T) {
	a := NewAutoscaler()
	a.SetInstanceCount("scraper", 1)
	a.Observe("scraper", 0.95)

	assert.Equal(t, ScaleUp, a.Evaluate("scraper"))
}

func TestAutoscalerRecommendsScaleDownBelowThreshold(t *testing.T) {
	a := NewAutoscaler()
	a.SetInstanceCount("scraper", 3)
	a.Observe("scraper", 0.1)

	assert.Equal(t, ScaleDown, a.Evaluate("scraper"))
}

func TestAutoscalerHonorsCooldown(t *testing.T) {
	a := NewAutoscaler()
	a.SetInstanceCount("scraper", 1)
	a.Observe("scraper", 0.95)

	assert.Equal(t, ScaleUp, a.Evaluate("scraper"))
	a.Observe("scraper", 0.95)
	assert.Equal(t, ScaleNone, a.Evaluate("scraper"), "second evaluation within cooldown must not re-recommend")
}

func TestAutoscalerWontScaleDownBelowMinInstances(t *testing.T) {
	a := NewAutoscaler()
	a.SetInstanceCount("scraper", defaultMinInstances)
	a.Observe("scraper", 0.01)

	assert.Equal(t, ScaleNone, a.Evaluate("scraper"))
}

func TestAutoscalerWontScaleUpAboveMaxInstances(t *testing.T) {
	a := NewAutoscaler()
	a.SetInstanceCount("scraper", defaultMaxInstances)
	a.Observe("scraper", 0.99)

	assert.Equal(t, ScaleNone, a.Evaluate("scraper"))
}
