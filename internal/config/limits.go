package config

const (
	// MaxProductionTitleLength is the maximum length for production titles.
	// Limited to 255 to fit in PostgreSQL VARCHAR(255) and provide
	// reasonable UX (titles should be short and descriptive).
	MaxProductionTitleLength = 255

	// MaxScenarioLength is the maximum length for a production's scenario
	// text. Scenarios are sent verbatim in every prompt frame, so the cap
	// also bounds per-request prompt overhead.
	MaxScenarioLength = 8000

	// MaxPerformanceLength is the maximum length for a user turn's
	// performance text.
	MaxPerformanceLength = 16000

	// MaxRequestBodyBytes caps JSON request bodies before decoding.
	MaxRequestBodyBytes = 1 << 20
)
