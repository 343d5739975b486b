package workflows

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

const jobMatchEstates = "match-estates"

// MatchEstates links unassigned plants to residential estates by comparing the
// words in their names. The first estate sharing a word with the plant name
// wins. Already-linked plants are left alone and counted as skipped.
func (r *Runner) MatchEstates(ctx context.Context) (Result, error) {
	ctx, logger, result, started := r.startRun(ctx, jobMatchEstates)
	defer r.finishRun(logger, &result, started)

	estates, err := r.store.ListEstates(ctx)
	if err != nil {
		return result, fmt.Errorf("list estates: %w", err)
	}
	estateWords := make([]map[string]struct{}, len(estates))
	for i, estate := range estates {
		estateWords[i] = extractWords(estate.Name)
	}

	var unmatched []int64
	page := 1
	for {
		stored, err := r.store.ListPlants(ctx, page, storePageSize)
		if err != nil {
			return result, fmt.Errorf("list stored plants: %w", err)
		}
		if len(stored.Plants) == 0 {
			break
		}
		for _, plant := range stored.Plants {
			if plant.EstateID != 0 {
				result.Skipped++
				r.observe(jobMatchEstates, outcomeSkipped)
				continue
			}
			words := extractWords(plant.Name)
			matched := false
			for i, estate := range estates {
				if !wordsOverlap(words, estateWords[i]) {
					continue
				}
				if err := r.store.AssignPlantEstate(ctx, plant.ID, estate.ID); err != nil {
					logger.Error("estate assignment failed", "plant_id", plant.ID, "estate_id", estate.ID, "error", err)
					result.Failed++
					r.observe(jobMatchEstates, outcomeFailed)
				} else {
					logger.Info("plant matched to estate", "plant_id", plant.ID, "estate_id", estate.ID, "estate", estate.Name)
					result.Updated++
					r.observe(jobMatchEstates, outcomeUpdated)
				}
				matched = true
				break
			}
			if !matched {
				unmatched = append(unmatched, plant.ID)
				result.Skipped++
				r.observe(jobMatchEstates, outcomeSkipped)
			}
		}
		if page*storePageSize >= stored.Total {
			break
		}
		page++
	}
	if len(unmatched) > 0 {
		logger.Warn("plants without an estate match", "count", len(unmatched), "plant_ids", unmatched)
	}
	return result, nil
}

// extractWords lowercases the name and splits it on every non-alphanumeric
// rune.
func extractWords(name string) map[string]struct{} {
	words := make(map[string]struct{})
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, field := range fields {
		words[field] = struct{}{}
	}
	return words
}

func wordsOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for word := range a {
		if _, ok := b[word]; ok {
			return true
		}
	}
	return false
}
