// Package research implements the researcher-facing side of the study:
// CSV export of stored submissions, internal-consistency metrics for the
// questionnaire scale, and the password gate in front of both.
package research

import (
	"sort"

	"github.com/adresearch/adtrial/internal/sink"
)

// CronbachAlpha computes Cronbach's alpha for a matrix of item responses
// shaped [nParticipants][nItems]. Population variance (divide by N) is used
// consistently, so perfectly correlated items yield alpha=1.0.
func CronbachAlpha(matrix [][]float64) float64 {
	n := len(matrix)
	if n == 0 {
		return 0
	}
	k := len(matrix[0])
	if k < 2 {
		return 0
	}

	itemVars := make([]float64, k)
	totals := make([]float64, n)

	means := make([]float64, k)
	for i := 0; i < n; i++ {
		row := matrix[i]
		if len(row) != k {
			return 0
		}
		for j := 0; j < k; j++ {
			means[j] += row[j]
			totals[i] += row[j]
		}
	}
	for j := 0; j < k; j++ {
		means[j] /= float64(n)
	}

	for j := 0; j < k; j++ {
		var sum float64
		for i := 0; i < n; i++ {
			d := matrix[i][j] - means[j]
			sum += d * d
		}
		itemVars[j] = sum / float64(n)
	}

	var totalMean float64
	for i := 0; i < n; i++ {
		totalMean += totals[i]
	}
	totalMean /= float64(n)
	var totalVar float64
	for i := 0; i < n; i++ {
		d := totals[i] - totalMean
		totalVar += d * d
	}
	totalVar /= float64(n)

	if totalVar == 0 {
		return 0
	}
	var sumItemVars float64
	for _, v := range itemVars {
		sumItemVars += v
	}

	kf := float64(k)
	alpha := (kf / (kf - 1.0)) * (1.0 - (sumItemVars / totalVar))
	if alpha < 0 {
		return 0
	}
	if alpha > 1 {
		return 1
	}
	return alpha
}

// AlphaReport describes the alpha computation over the stored submissions.
type AlphaReport struct {
	Alpha        float64  `json:"alpha"`
	Items        []string `json:"items"`
	Participants int      `json:"participants"`
	Excluded     int      `json:"excluded"`
}

// AlphaFromRecords builds the response matrix from stored submissions and
// computes alpha over it. Item order is the sorted union of question texts;
// submissions missing any item are excluded rather than imputed, since a
// partial row would bias the item variances.
func AlphaFromRecords(records []sink.Record) AlphaReport {
	itemSet := map[string]struct{}{}
	for _, rec := range records {
		for q := range rec.Payload.Responses {
			itemSet[q] = struct{}{}
		}
	}
	items := make([]string, 0, len(itemSet))
	for q := range itemSet {
		items = append(items, q)
	}
	sort.Strings(items)

	var matrix [][]float64
	excluded := 0
	for _, rec := range records {
		row := make([]float64, len(items))
		complete := true
		for j, q := range items {
			entry, ok := rec.Payload.Responses[q]
			if !ok {
				complete = false
				break
			}
			row[j] = float64(entry.Numeric)
		}
		if !complete {
			excluded++
			continue
		}
		matrix = append(matrix, row)
	}

	return AlphaReport{
		Alpha:        CronbachAlpha(matrix),
		Items:        items,
		Participants: len(matrix),
		Excluded:     excluded,
	}
}
