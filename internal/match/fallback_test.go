package match

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jdmontoya/invoiceflow/internal/model"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{name: "identical strings", a: "Project Alpha", b: "Project Alpha", want: 1.0},
		{name: "both empty", a: "", b: "", want: 1.0},
		{name: "one empty", a: "abc", b: "", want: 0.0},
		{name: "single substitution", a: "abc", b: "abd", want: 1.0 - 1.0/3.0},
		{name: "case insensitive", a: "PROJECT ALPHA", b: "project alpha", want: 1.0},
		{name: "completely different", a: "aaa", b: "zzz", want: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, similarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestFallbackScore(t *testing.T) {
	t.Run("exact name and description", func(t *testing.T) {
		invoice := model.Invoice{
			Concept:       "Torre Norte",
			VendorAddress: "Calle Mayor 12, Madrid",
		}
		project := model.Project{
			Name:        "Torre Norte",
			Description: "Torre Norte",
			Address:     "Calle Mayor 12, Madrid",
		}

		score, reason, breakdown := fallbackScore(invoice, project)
		assert.InDelta(t, 90.0, score, 1e-9)
		assert.Equal(t, "3/3 criteria matched", reason)
		assert.InDelta(t, 40.0, breakdown.NameScore, 1e-9)
		assert.InDelta(t, 30.0, breakdown.AddressScore, 1e-9)
	})

	t.Run("similarity of exactly 0.7 does not count", func(t *testing.T) {
		// 10 runes, distance 3: similarity is exactly 0.7, which must
		// fail the strict > cutoff.
		invoice := model.Invoice{Concept: "aaaaaaaaaa"}
		project := model.Project{Name: "aaaaaaabbb"}

		assert.InDelta(t, 0.7, similarity(invoice.Concept, project.Name), 1e-9)

		score, reason, breakdown := fallbackScore(invoice, project)
		assert.Zero(t, score)
		assert.Equal(t, "0/3 criteria matched", reason)
		assert.Zero(t, breakdown.NameScore)
	})

	t.Run("partial similarity reduces contribution proportionally", func(t *testing.T) {
		invoice := model.Invoice{Concept: "Torre Norte fase 2"}
		project := model.Project{Name: "Torre Norte fase 1"}

		sim := similarity(invoice.Concept, project.Name)
		score, reason, _ := fallbackScore(invoice, project)
		assert.Greater(t, sim, 0.7)
		assert.InDelta(t, sim*40.0, score, 1e-9)
		assert.Equal(t, "1/3 criteria matched", reason)
	})

	t.Run("vendor name can satisfy the name criterion", func(t *testing.T) {
		invoice := model.Invoice{VendorName: "Edificio Central"}
		project := model.Project{Name: "Edificio Central"}

		score, _, _ := fallbackScore(invoice, project)
		assert.InDelta(t, 40.0, score, 1e-9)
	})

	t.Run("no signals at all", func(t *testing.T) {
		score, reason, _ := fallbackScore(model.Invoice{VendorName: "x"}, model.Project{Name: "completely unrelated"})
		assert.Zero(t, score)
		assert.Equal(t, "0/3 criteria matched", reason)
	})
}
