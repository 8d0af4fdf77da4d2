package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/worthit/pipeline/internal/errors"
)

// sentimentModelPath/featureModelPath are HuggingFace Inference API
// model paths; host is whichever mesh instance of "sentiment" the
// caller's Do selected.
const (
	sentimentModelPath = "/models/nlptown/bert-base-multilingual-uncased-sentiment"
	featureModelPath   = "/models/mistralai/Mistral-7B-Instruct-v0.2"

	sentimentBatchSize = 10
	maxProsAndCons     = 5
	maxReviewsInPrompt = 5
)

// MLProcessor extracts sentiment and pros/cons from scraped reviews via
// HuggingFace inference endpoints, and computes the final value score.
//
// Grounded in full on original_source/api/ml_processor.py: batch size,
// neutral-default fallbacks, and the calculate_value_score formula are
// carried over unchanged.
type MLProcessor struct {
	client *resty.Client
	token  string
}

// NewMLProcessor builds an MLProcessor bound to a HuggingFace token.
func NewMLProcessor(token string) *MLProcessor {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(2 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second)
	return &MLProcessor{client: client, token: token}
}

type sentimentLabel struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// SentimentResult is the aggregate sentiment produced by AnalyzeSentiment.
type SentimentResult struct {
	AverageSentiment float64
}

// AnalyzeSentiment batches review texts to the BERT multilingual
// sentiment model and averages the returned 1-5 star ratings. Batches
// that error are skipped rather than failing the whole call, matching
// ml_processor.py's continue-on-batch-error behavior.
func (m *MLProcessor) AnalyzeSentiment(ctx context.Context, reviews []ReviewEntry, host string) (SentimentResult, error) {
	if len(reviews) == 0 {
		return SentimentResult{AverageSentiment: 0}, nil
	}

	texts := make([]string, 0, len(reviews))
	for _, r := range reviews {
		if r.Review != "" {
			texts = append(texts, r.Review)
		}
	}
	if len(texts) == 0 {
		return SentimentResult{AverageSentiment: 0}, nil
	}

	var ratings []int
	for i := 0; i < len(texts); i += sentimentBatchSize {
		end := i + sentimentBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		var results [][]sentimentLabel
		resp, err := m.client.R().
			SetContext(ctx).
			SetAuthToken(m.token).
			SetBody(map[string]interface{}{"inputs": batch}).
			SetResult(&results).
			Post(fmt.Sprintf("https://%s%s", host, sentimentModelPath))
		if err != nil || resp.IsError() {
			continue
		}

		for _, labels := range results {
			ratings = append(ratings, bestRating(labels))
		}
	}

	if len(ratings) == 0 {
		return SentimentResult{AverageSentiment: 3}, nil
	}

	sum := 0
	for _, r := range ratings {
		sum += r
	}
	return SentimentResult{AverageSentiment: float64(sum) / float64(len(ratings))}, nil
}

func bestRating(labels []sentimentLabel) int {
	if len(labels) == 0 {
		return 3
	}
	best := labels[0]
	for _, l := range labels[1:] {
		if l.Score > best.Score {
			best = l
		}
	}
	stars := 3
	for _, ch := range best.Label {
		if ch >= '1' && ch <= '5' {
			stars = int(ch - '0')
			break
		}
	}
	return stars
}

// ExtractProsAndCons falls back to generic defaults when the feature
// model is unavailable or reviews are empty, matching
// ml_processor.py's "ensure meaningful results" guard.
func (m *MLProcessor) ExtractProsAndCons(ctx context.Context, product *ProductData, host string) ([]string, []string, error) {
	if len(product.Reviews) == 0 {
		return defaultPros(product.Features), defaultCons(), nil
	}

	prompt := buildProsConsPrompt(product)

	var result []struct {
		GeneratedText string `json:"generated_text"`
	}
	resp, err := m.client.R().
		SetContext(ctx).
		SetAuthToken(m.token).
		SetBody(map[string]interface{}{
			"inputs": prompt,
			"parameters": map[string]interface{}{
				"max_new_tokens":  800,
				"temperature":     0.7,
				"top_p":           0.95,
				"do_sample":       true,
				"return_full_text": false,
			},
		}).
		SetResult(&result).
		Post(fmt.Sprintf("https://%s%s", host, featureModelPath))
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.UpstreamTransient)
	}
	if resp.IsError() || len(result) == 0 {
		return defaultPros(product.Features), defaultCons(), nil
	}

	pros, cons := parseProsAndCons(result[0].GeneratedText)
	if len(pros) == 0 {
		pros = defaultPros(product.Features)
	}
	if len(cons) == 0 {
		cons = defaultCons()
	}
	return pros, cons, nil
}

func defaultPros(features []string) []string {
	if len(features) >= 3 {
		return []string{"Good " + features[0], "Good " + features[1], "Good " + features[2]}
	}
	return []string{"Positive user reviews", "Competitive pricing", "Quality product"}
}

func defaultCons() []string {
	return []string{"Limited review data", "More user feedback needed", "Consider alternatives"}
}

func buildProsConsPrompt(product *ProductData) string {
	prompt := "Analyze this product and its reviews to extract key pros and cons:\n\n"
	prompt += "Product: " + product.Title + "\n\n"
	prompt += "Description: " + product.Description + "\n\n"

	for i, r := range product.Reviews {
		if i >= maxReviewsInPrompt {
			break
		}
		prompt += r.Review + "\n\n"
	}
	return prompt
}

func parseProsAndCons(generated string) ([]string, []string) {
	var pros, cons []string
	section := ""

	for _, line := range strings.Split(generated, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)

		switch {
		case strings.HasPrefix(lower, "pros:"):
			section = "pros"
			continue
		case strings.HasPrefix(lower, "cons:"):
			section = "cons"
			continue
		}

		if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "*") {
			item := strings.TrimSpace(trimmed[1:])
			if item == "" {
				continue
			}
			switch section {
			case "pros":
				if len(pros) < maxProsAndCons {
					pros = append(pros, item)
				}
			case "cons":
				if len(cons) < maxProsAndCons {
					cons = append(cons, item)
				}
			}
		}
	}
	return pros, cons
}

// CalculateValueScore reproduces ml_processor.py's calculate_value_score:
// a 0-10 blend of normalized rating, sentiment delta, feature richness,
// price ratio against a flat $100 category baseline, weighted by review
// confidence.
func CalculateValueScore(product *ProductData, sentiment SentimentResult) float64 {
	price := parsePrice(product.Price)

	rating := product.Rating
	baseScore := 5.0
	if rating > 0 {
		baseScore = (rating / 5) * 10
	}

	sentimentModifier := sentiment.AverageSentiment - 3

	featureModifier := float64(len(product.Features)) / 4
	if featureModifier > 1.5 {
		featureModifier = 1.5
	}

	priceModifier := 0.0
	if price > 0 {
		const avgPrice = 100.0
		priceRatio := price / avgPrice
		if priceRatio > 2 {
			priceRatio = 2
		}
		priceModifier = 1 - priceRatio
	}

	reviewConfidence := float64(product.ReviewCount) / 100
	if reviewConfidence > 1 {
		reviewConfidence = 1
	}

	valueScore := baseScore + sentimentModifier + featureModifier + priceModifier
	valueScore = (valueScore * reviewConfidence) + (7 * (1 - reviewConfidence))

	if valueScore < 0 {
		valueScore = 0
	}
	if valueScore > 10 {
		valueScore = 10
	}
	return roundTo1Decimal(valueScore)
}

// Recommendation returns the Italian-language recommendation text for a
// value score, verbatim from original_source/worker/worker.py's
// get_recommendation thresholds.
func Recommendation(valueScore float64) string {
	switch {
	case valueScore >= 8.0:
		return "Ottimo acquisto! Questo prodotto offre un eccellente rapporto qualità/prezzo."
	case valueScore >= 6.0:
		return "Buon acquisto. Il prodotto vale il suo prezzo."
	case valueScore >= 4.0:
		return "Acquisto nella media. Valuta se ci sono alternative migliori."
	default:
		return "Non consigliato. Il prodotto non vale il prezzo richiesto."
	}
}

func roundTo1Decimal(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
