// Package stages holds the three crawl stages run by the pipeline:
//
//	CapitalStage   capital_list page -> capitals, persisted and handed off
//	ForecastStage  weather page per capital -> daily forecasts, persisted and published
//	NewsStage      news pages 1..N -> articles, persisted
//
// Extraction is driven by CSS selectors from configuration so a markup change
// is a config change. Each stage satisfies worker.Producer or worker.Consumer.
package stages
