package match

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/jdmontoya/invoiceflow/internal/model"
)

// Weighted criteria for the deterministic scorer. A criterion only
// contributes when its similarity strictly exceeds its cutoff.
const (
	nameWeight     = 40.0
	nameCutoff     = 0.7
	locationWeight = 30.0
	locationCutoff = 0.6
	conceptWeight  = 20.0
	conceptCutoff  = 0.5
)

// similarity returns normalized Levenshtein similarity in [0,1].
// Two empty strings are identical.
func similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))

	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1.0
	}

	distance := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(distance)/float64(maxLen)
}

// comparableSimilarity scores a criterion only when both sides carry a
// value. Two absent fields are not evidence of a match, even though
// similarity("", "") is 1 by definition.
func comparableSimilarity(a, b string) float64 {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return 0
	}
	return similarity(a, b)
}

// fallbackScore ranks one invoice/project pair by weighted string
// similarity. It is used when the primary scorer fails for a project,
// so a matching run always produces a result.
func fallbackScore(invoice model.Invoice, project model.Project) (float64, string, model.ScoreBreakdown) {
	var score float64
	var matched int
	var breakdown model.ScoreBreakdown

	nameSim := comparableSimilarity(invoice.Concept, project.Name)
	if s := comparableSimilarity(invoice.VendorName, project.Name); s > nameSim {
		nameSim = s
	}
	if nameSim > nameCutoff {
		contribution := nameSim * nameWeight
		score += contribution
		breakdown.NameScore = contribution
		matched++
	}

	locationSim := comparableSimilarity(invoice.VendorAddress, project.Address)
	if s := comparableSimilarity(invoice.VendorAddress, project.City); s > locationSim {
		locationSim = s
	}
	if locationSim > locationCutoff {
		contribution := locationSim * locationWeight
		score += contribution
		breakdown.AddressScore = contribution
		matched++
	}

	conceptSim := comparableSimilarity(invoice.Concept, project.Description)
	if conceptSim > conceptCutoff {
		score += conceptSim * conceptWeight
		matched++
	}

	if score > 100 {
		score = 100
	}

	reason := fmt.Sprintf("%d/3 criteria matched", matched)
	return score, reason, breakdown
}
