// Package estimate derives workload figures from a file's size and type. All
// functions are pure: same inputs always yield the same outputs and every
// branch has a defined fallback, so callers never see an error.
package estimate

import "github.com/dharsanguruparan/learnscaffold/internal/model"

const (
	baseMinutes = 2

	// Size divisors per file type; rough content-density heuristics.
	bytesPerPDFPage  = 50_000
	bytesPerVideoMin = 10_000_000
	bytesPerAudioMin = 1_000_000
	bytesPerTextPage = 2_000

	recommendedHoursPerDay = 2.0
	minRecommendedDays     = 7
	maxRecommendedDays     = 30
)

// Elements estimates pages (PDF/text) or minutes (audio/video) from the byte
// size. Unknown types count as a single element.
func Elements(sizeBytes int64, fileType string) int {
	switch fileType {
	case ".pdf":
		return atLeastOne(sizeBytes / bytesPerPDFPage)
	case ".mp4":
		return atLeastOne(sizeBytes / bytesPerVideoMin)
	case ".mp3":
		return atLeastOne(sizeBytes / bytesPerAudioMin)
	case ".txt":
		return atLeastOne(sizeBytes / bytesPerTextPage)
	}
	return 1
}

// ProcessingMinutes estimates end-to-end processing time. Audio and video are
// the slowest to analyze per element.
func ProcessingMinutes(elements int, fileType string) int {
	switch fileType {
	case ".pdf":
		return baseMinutes + elements
	case ".mp4", ".mp3":
		return baseMinutes + elements*3
	case ".txt":
		half := elements / 2
		if half < 1 {
			half = 1
		}
		return baseMinutes + half
	}
	return baseMinutes + elements
}

// SuggestedPlan recommends a study schedule: two days per element, clamped to
// [7, 30] days at a fixed two hours per day.
func SuggestedPlan(elements int) model.SuggestedPlan {
	days := elements * 2
	if days < minRecommendedDays {
		days = minRecommendedDays
	}
	if days > maxRecommendedDays {
		days = maxRecommendedDays
	}
	return model.SuggestedPlan{
		RecommendedDays:        days,
		RecommendedHoursPerDay: recommendedHoursPerDay,
		TotalHours:             float64(days) * recommendedHoursPerDay,
	}
}

func atLeastOne(n int64) int {
	if n < 1 {
		return 1
	}
	return int(n)
}
