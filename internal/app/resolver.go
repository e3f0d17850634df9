package app

import (
	"github.com/hylla/mcpcc/internal/domain"
)

// ResolveIdentity finds the local project matching rec by case-insensitive canonical URL.
// It returns ok=false when nothing matches and *AmbiguousMatchError when several projects match.
func ResolveIdentity(rec domain.ExternalRecord, existing []domain.Project) (domain.Project, bool, error) {
	key := domain.CanonicalKey(rec.CanonicalURL)
	if key == "" {
		return domain.Project{}, false, nil
	}

	var matches []domain.Project
	for _, p := range existing {
		if p.MatchKey() == key {
			matches = append(matches, p)
		}
	}

	switch len(matches) {
	case 0:
		return domain.Project{}, false, nil
	case 1:
		return matches[0], true, nil
	default:
		ids := make([]string, 0, len(matches))
		for _, p := range matches {
			ids = append(ids, p.ID)
		}
		return domain.Project{}, false, &AmbiguousMatchError{
			CanonicalURL: domain.NormalizeCanonicalURL(rec.CanonicalURL),
			CandidateIDs: ids,
		}
	}
}
