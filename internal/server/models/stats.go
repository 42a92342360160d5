package models

// ContributorStats counts the current batch plus lifetime totals.
type ContributorStats struct {
	Assigned   int
	Pending    int
	Uploaded   int
	Failed     int
	Skipped    int
	Unrecorded int

	LifetimeUploaded int
	LifetimeSkipped  int
}

// LanguageStats is one row of the stats_by_language view.
type LanguageStats struct {
	Language           string
	Contributors       int
	RecordingsUploaded int
}
