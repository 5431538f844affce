package collector

import "cloudsql-report-agent/internal/model"

// SelectPeak returns the instance with the highest CPU. The comparison is strict, so
// the first instance reaching the maximum keeps the peak. Empty input yields ("", 0).
func SelectPeak(summaries []model.InstanceSummary) (string, float64) {
	peakID, peak := "", 0.0
	for _, s := range summaries {
		if s.CPUUtilization == nil {
			continue
		}
		v := *s.CPUUtilization
		if peakID == "" || v > peak {
			peakID, peak = s.InstanceID, v
		}
	}
	return peakID, peak
}
