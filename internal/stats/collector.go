// Package stats provides a unified interface for collecting metrics.
package stats

// Metric names used throughout the pipeline.
const (
	// Ingestion metrics.
	MetricGamesParsed   = "chessbook_games_parsed_total"
	MetricParseErrors   = "chessbook_parse_errors_total"
	MetricGamesAnalyzed = "chessbook_games_analyzed_total"
	MetricGamesRescored = "chessbook_games_rescored_total"
	MetricGamesSkipped  = "chessbook_games_skipped_total"
	MetricGamesFailed   = "chessbook_games_failed_total"
	MetricStoreErrors   = "chessbook_store_errors_total"
	MetricGameSeconds   = "chessbook_game_analysis_seconds"
	MetricWorkersActive = "chessbook_workers_active"
	MetricGamesExported = "chessbook_games_exported_total"
	MetricQualityScore  = "chessbook_quality_score"
	MetricStoredGames   = "chessbook_stored_games"

	// Engine metrics.
	MetricEngineCalls    = "chessbook_engine_calls_total"
	MetricEngineRetries  = "chessbook_engine_retries_total"
	MetricEngineRestarts = "chessbook_engine_restarts_total"
	MetricEvalSeconds    = "chessbook_eval_seconds"

	// Evaluation cache metrics.
	MetricCacheHits   = "chessbook_eval_cache_hits_total"
	MetricCacheMisses = "chessbook_eval_cache_misses_total"
	MetricCacheSize   = "chessbook_eval_cache_size"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncCounter increments a counter metric by delta.
	IncCounter(name string, delta int64)

	// SetGauge sets a gauge metric to value.
	SetGauge(name string, value int64)

	// ObserveHistogram records a value in a histogram metric.
	ObserveHistogram(name string, value float64)
}
