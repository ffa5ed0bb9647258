package matching

import (
	"strings"
	"time"

	"github.com/david/grantmatch/internal/models"
	"github.com/david/grantmatch/internal/sic"
)

const (
	sectionMatchPoints = 15
	smePoints          = 10
	startupPoints      = 20
	maxScore           = 100
	startupYears       = 2
)

// Score rates how well a grant fits a company, from 0 to 100.
func Score(g models.NormalizedGrant, c *models.CompanyContext) int {
	return ScoreAt(g, c, time.Now())
}

// ScoreAt is Score with an explicit clock.
func ScoreAt(g models.NormalizedGrant, c *models.CompanyContext, now time.Time) int {
	if c == nil {
		return 0
	}
	text := strings.ToLower(g.Title + " " + g.Description + " " + strings.Join(g.Categories, " "))

	score := 0
	for _, ic := range c.IndustryCodes {
		section := sectionOf(ic)
		if section == "" {
			continue
		}
		for _, kw := range sic.SectionKeywords[section] {
			if strings.Contains(text, kw) {
				score += sectionMatchPoints
				break
			}
		}
	}

	if strings.EqualFold(c.CompanyType, "ltd") && strings.Contains(text, "sme") {
		score += smePoints
	}

	if c.IncorporationDate != nil && now.Year()-c.IncorporationDate.Year() <= startupYears {
		if strings.Contains(text, "startup") || strings.Contains(text, "new business") {
			score += startupPoints
		}
	}

	return min(score, maxScore)
}

// ApplyScores sets RelevanceScore on every grant in place.
func ApplyScores(grants []models.NormalizedGrant, c *models.CompanyContext, now time.Time) {
	for i := range grants {
		s := ScoreAt(grants[i], c, now)
		grants[i].RelevanceScore = &s
	}
}
