package worker

import (
	"context"

	"github.com/worthit/pipeline/internal/errors"
	"github.com/worthit/pipeline/internal/models"
	"github.com/worthit/pipeline/internal/queue"
)

// processProductAnalysis runs the scrape -> sentiment -> pros/cons ->
// value-score pipeline for a product_analysis task, persists the
// result, and notifies the requesting chat if any. Mirrors
// original_source/worker/worker.py's product_analysis branch.
func (p *Pool) processProductAnalysis(ctx context.Context, task *models.Task) {
	url, _ := task.Data["url"].(string)
	if url == "" {
		p.fail(ctx, task, errors.New(errors.Validation, "task has no url"))
		return
	}

	var product *ProductData
	scrapeErr := withRetry(ctx, func() error {
		var err error
		meshErr := p.mesh.Do(ctx, "scraper", url, func(ctx context.Context, inst models.ServiceInstance) error {
			product, err = p.scraper.Extract(ctx, url, inst.Host)
			return err
		})
		if meshErr != nil {
			return meshErr
		}
		return err
	})
	if scrapeErr != nil {
		p.fail(ctx, task, errors.Wrap(scrapeErr, errors.UpstreamTransient))
		return
	}

	var sentiment SentimentResult
	sentimentErr := p.mesh.Do(ctx, "sentiment", "sentiment:"+url, func(ctx context.Context, inst models.ServiceInstance) error {
		var err error
		sentiment, err = p.ml.AnalyzeSentiment(ctx, product.Reviews, inst.Host)
		return err
	})
	if sentimentErr != nil {
		p.fail(ctx, task, errors.Wrap(sentimentErr, errors.UpstreamTransient))
		return
	}

	var pros, cons []string
	prosConsErr := p.mesh.Do(ctx, "sentiment", "prosandcons:"+url, func(ctx context.Context, inst models.ServiceInstance) error {
		var err error
		pros, cons, err = p.ml.ExtractProsAndCons(ctx, product, inst.Host)
		return err
	})
	if prosConsErr != nil {
		p.fail(ctx, task, errors.Wrap(prosConsErr, errors.UpstreamTransient))
		return
	}

	valueScore := CalculateValueScore(product, sentiment)
	result := &models.AnalysisResult{
		Title:          product.Title,
		Price:          product.Price,
		ValueScore:     valueScore,
		Recommendation: Recommendation(valueScore),
		Pros:           pros,
		Cons:           cons,
	}

	if err := p.queue.UpdateStatus(ctx, task.ID, models.StatusCompleted, queue.StatusPatch{Result: result}); err != nil {
		p.log.Error("failed to record completed analysis", "task_id", task.ID, "error", err)
	}

	if p.archive != nil {
		task.Status = models.StatusCompleted
		task.Result = result
		if err := p.archive.Save(ctx, task); err != nil {
			p.log.Error("failed to archive completed analysis", "task_id", task.ID, "error", err)
		}
	}

	if task.ChatID != "" {
		if err := p.notifier.NotifySuccess(ctx, task.ChatID, result); err != nil {
			p.log.Error("failed to notify chat of completion", "task_id", task.ID, "error", err)
		}
	}
}

// processTelegramUpdate acknowledges a telegram_update task: the actual
// bot command handling runs in the gateway's webhook handler before the
// task is even enqueued, so the worker's role here is limited to
// bookkeeping and error isolation per worker.py's process_telegram_update.
func (p *Pool) processTelegramUpdate(ctx context.Context, task *models.Task) {
	if err := p.queue.UpdateStatus(ctx, task.ID, models.StatusCompleted, queue.StatusPatch{}); err != nil {
		p.log.Error("failed to record telegram update completion", "task_id", task.ID, "error", err)
	}
}
