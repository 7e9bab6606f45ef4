package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
	"github.com/JakeFAU/capital-forecast-crawler/internal/metrics"
	"github.com/JakeFAU/capital-forecast-crawler/internal/progress"
)

// fetch resolves target and fetches it, retrying per the worker's policy.
// It logs one Info line on success and one Warn line per failed attempt.
func (w *Worker) fetch(ctx context.Context, target crawler.Target, field zap.Field) (string, []byte, bool) {
	log := w.logger().With(field)
	url, err := target.Resolve()
	switch {
	case err == nil:
	case errors.Is(err, crawler.ErrInvalidParameter) && url != "":
		log.Warn("query parameters could not be encoded; fetching without query",
			zap.String("url", url), zap.Error(err))
	default:
		log.Warn("cannot resolve target", zap.String("page", string(target.Page.Key)), zap.Error(err))
		return "", nil, false
	}

	request := crawler.FetchRequest{URL: url}
	for attempt := 1; ; attempt++ {
		resp, err := w.fetcher.Fetch(ctx, request)
		w.observeFetch(url, resp, err)
		if err == nil {
			log.Info("fetch succeeded",
				zap.String("url", url),
				zap.Int("status", resp.StatusCode),
				zap.Int("bytes", len(resp.Body)),
				zap.Duration("duration", resp.Duration),
				zap.Int("attempt", attempt))
			w.store(ctx, log, resp)
			return url, resp.Body, true
		}
		if errors.Is(err, crawler.ErrInvalidEncoding) {
			log.Warn("response is not valid UTF-8", zap.String("url", url), zap.Error(err))
			return url, nil, false
		}
		log.Warn("fetch failed", zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
		if w.retry == nil || ctx.Err() != nil || !w.retry.ShouldRetry(err, attempt) {
			return url, nil, false
		}
		if err := sleep(ctx, w.retry.Backoff(attempt)); err != nil {
			return url, nil, false
		}
	}
}

func (w *Worker) observeFetch(url string, resp crawler.FetchResponse, err error) {
	result := "success"
	class := progress.ClassifyStatus(resp.StatusCode)
	if err != nil {
		result = "failure"
		if resp.StatusCode == 0 {
			class = progress.StatusOther
		}
	}
	metrics.ObserveFetch(url, result, len(resp.Body), resp.Duration)
	w.emit(progress.Event{
		Kind:        progress.KindFetchDone,
		URL:         url,
		OK:          err == nil,
		StatusClass: class,
		Bytes:       int64(len(resp.Body)),
		Dur:         max(resp.Duration, 0),
	})
}

// store archives a fetched body when an archive is configured. Failures are
// logged and never fail the item.
func (w *Worker) store(ctx context.Context, log *zap.Logger, resp crawler.FetchResponse) {
	if w.archive == nil || w.hasher == nil {
		return
	}
	hash, err := w.hasher.Hash(resp.Body)
	if err != nil {
		log.Warn("hash page failed", zap.String("url", resp.URL), zap.Error(err))
		return
	}
	path := w.archivePath(hash)
	uri, err := w.archive.PutObject(ctx, path, "text/html; charset=utf-8", bytes.NewReader(resp.Body))
	if err != nil {
		log.Warn("archive page failed", zap.String("url", resp.URL), zap.String("path", path), zap.Error(err))
		return
	}
	log.Debug("page archived", zap.String("url", resp.URL), zap.String("uri", uri))
}

func (w *Worker) archivePath(hash string) string {
	prefix := strings.Trim(w.archivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", w.name, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, w.name, hash)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
