// Package report builds the cross-module rollups: the recommendations
// register, the executive summary of worst contributors, and the risk-score
// table. Output is markdown; RenderHTML converts it for the browser viewer.
package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/fraser/firewarden/internal/catalogue"
	"github.com/fraser/firewarden/internal/fieldset"
	"github.com/fraser/firewarden/internal/models"
	"github.com/fraser/firewarden/internal/score"
)

// Source is the slice of the store the reporter reads.
type Source interface {
	ListInstances(ctx context.Context, documentID string) ([]*models.ModuleInstance, error)
	ListRecommendations(ctx context.Context, documentID string, openOnly bool) ([]*models.Recommendation, error)
}

// Reporter renders document-level rollups.
type Reporter struct {
	src  Source
	cat  *catalogue.Catalogue
	topN int
}

// New creates a Reporter. topN bounds the contributor list per module in
// the executive summary (observed reporting convention is 3).
func New(src Source, cat *catalogue.Catalogue, topN int) *Reporter {
	if topN < 1 {
		topN = 3
	}
	return &Reporter{src: src, cat: cat, topN: topN}
}

// RecommendationsRegister renders the document's register grouped by source
// module, open entries first unless all is set.
func (r *Reporter) RecommendationsRegister(ctx context.Context, documentID string, all bool) (string, error) {
	recs, err := r.src.ListRecommendations(ctx, documentID, !all)
	if err != nil {
		return "", fmt.Errorf("list recommendations: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Recommendations Register\n\nDocument: %s\n\n", documentID)
	if len(recs) == 0 {
		b.WriteString("No recommendations recorded.\n")
		return b.String(), nil
	}

	currentModule := ""
	for _, rec := range recs {
		if rec.SourceModuleKey != currentModule {
			currentModule = rec.SourceModuleKey
			fmt.Fprintf(&b, "## %s\n\n", r.moduleTitle(currentModule))
		}
		origin := "manual"
		if rec.IsAutoGenerated {
			origin = fmt.Sprintf("auto, rating %d", rec.TriggerRating)
		}
		fmt.Fprintf(&b, "- **%s** [%s/%s] (%s)\n  %s\n", rec.Title, rec.Priority, rec.Status, origin, rec.Detail)
		if rec.OwnerID != "" {
			fmt.Fprintf(&b, "  Owner: %s\n", rec.OwnerID)
		}
		if rec.TargetDate != nil {
			fmt.Fprintf(&b, "  Target: %s\n", rec.TargetDate.Format("2006-01-02"))
		}
	}
	return b.String(), nil
}

// ExecutiveSummary renders module outcomes plus, for each risk-engineering
// module, its pillar ratings, the overall worst-of rating and the top
// weighted contributors.
func (r *Reporter) ExecutiveSummary(ctx context.Context, documentID string) (string, error) {
	instances, err := r.src.ListInstances(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("list instances: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Executive Summary\n\nDocument: %s\n\n", documentID)

	b.WriteString("## Module Outcomes\n\n")
	if len(instances) == 0 {
		b.WriteString("No modules assessed yet.\n\n")
	}
	for _, inst := range instances {
		outcome := "not confirmed"
		if inst.Outcome != nil {
			outcome = string(*inst.Outcome)
		}
		fmt.Fprintf(&b, "- %s: %s\n", r.moduleTitle(inst.ModuleKey), outcome)
	}
	b.WriteString("\n")

	for _, inst := range instances {
		schema, ok := r.cat.Schema(inst.ModuleKey)
		if !ok || len(schema.Factors) == 0 {
			continue
		}
		factors, err := moduleFactors(schema, inst)
		if err != nil {
			return "", err
		}

		fmt.Fprintf(&b, "## %s\n\n", schema.Title)

		groups, order := score.GroupByPeril(factors)
		overall := models.RatingMax
		for _, group := range order {
			pillar := score.Pillar(groups[group])
			overall = score.CombinePillars(overall, pillar)
			fmt.Fprintf(&b, "- %s pillar rating: %d\n", groupLabel(group), pillar)
		}
		fmt.Fprintf(&b, "- Overall rating: %d\n\n", overall)

		fmt.Fprintf(&b, "Top %d contributors by weighted score:\n\n", r.topN)
		for i, sf := range score.TopContributors(factors, r.topN) {
			fmt.Fprintf(&b, "%d. %s: rating %d, weight %.1f, score %.1f\n",
				i+1, sf.Label, sf.Rating.OrNeutral(), sf.Weight, sf.Score)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

// RiskScoreTable renders the factor/rating/weight/score table for every
// risk-engineering module in the document.
func (r *Reporter) RiskScoreTable(ctx context.Context, documentID string) (string, error) {
	instances, err := r.src.ListInstances(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("list instances: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Risk Score Table\n\nDocument: %s\n\n", documentID)

	found := false
	for _, inst := range instances {
		schema, ok := r.cat.Schema(inst.ModuleKey)
		if !ok || len(schema.Factors) == 0 {
			continue
		}
		factors, err := moduleFactors(schema, inst)
		if err != nil {
			return "", err
		}
		found = true

		result := score.Score(factors)
		fmt.Fprintf(&b, "## %s\n\n", schema.Title)
		b.WriteString("| Factor | Rating | Weight | Score |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, sf := range result.PerFactor {
			fmt.Fprintf(&b, "| %s | %d | %.1f | %.1f |\n",
				sf.Label, sf.Rating.OrNeutral(), sf.Weight, sf.Score)
		}
		fmt.Fprintf(&b, "| **Total** | | | **%.1f** |\n\n", result.Total)
		fmt.Fprintf(&b, "Pillar rating (worst of group): %d\n\n", result.PillarRating)
	}
	if !found {
		b.WriteString("No rated modules in this document.\n")
	}
	return b.String(), nil
}

// moduleFactors decodes an instance's FieldSet and extracts its factors.
func moduleFactors(schema *catalogue.Schema, inst *models.ModuleInstance) ([]score.Factor, error) {
	fs, err := fieldset.Decode(inst.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s data: %w", inst.ModuleKey, err)
	}
	fs.Normalize(schema.Aliases)
	return schema.FactorsFrom(fs), nil
}

// moduleTitle resolves a module key to its catalogue title, falling back to
// the raw key for modules saved under schemas no longer in the catalogue.
func (r *Reporter) moduleTitle(key string) string {
	if schema, ok := r.cat.Schema(key); ok {
		return schema.Title
	}
	return key
}

// groupLabel formats a peril group key for display.
func groupLabel(group string) string {
	if group == "" {
		return "General"
	}
	return strings.ToUpper(group[:1]) + group[1:]
}
