package models

import "strings"

// CanonicalTopics is the closed list of topics users can subscribe to.
var CanonicalTopics = []string{
	"Technologie",
	"Finance",
	"Sport",
	"Politique",
	"Santé",
	"Environnement",
	"Divertissement",
	"Science",
	"Affaires",
	"Voyages",
}

// GeneralNewsTopic is the catch-all query used for free-tier questions.
const GeneralNewsTopic = "Actualités"

// MatchTopics validates extracted labels against CanonicalTopics.
// A label matches when either string contains the other, ignoring case.
// The canonical label is returned for each match, de-duplicated, in input order.
func MatchTopics(extracted []string) []string {
	matched := make([]string, 0, len(extracted))
	seen := make(map[string]bool)
	for _, raw := range extracted {
		label := strings.ToLower(strings.TrimSpace(raw))
		if label == "" {
			continue
		}
		for _, canonical := range CanonicalTopics {
			c := strings.ToLower(canonical)
			if strings.Contains(c, label) || strings.Contains(label, c) {
				if !seen[canonical] {
					seen[canonical] = true
					matched = append(matched, canonical)
				}
				break
			}
		}
	}
	return matched
}
