package workflow

import (
	"path"
	"strings"

	"steward/core/internal/fault"
)

// Category classifies an artifact by filename. Categories gate which phases a
// proposal touching that artifact may be created in.
type Category string

const (
	CategoryCharter Category = "charter"
	CategoryPlan    Category = "plan"
	CategoryReport  Category = "report"
	CategoryClosure Category = "closure"
	CategoryGeneral Category = "general"
)

// categoryPhases maps each artifact category to the phases in which it is
// proposable. General artifacts are proposable in every non-terminal phase.
var categoryPhases = map[Category][]Phase{
	CategoryCharter: {Initiating, Planning},
	CategoryPlan:    {Planning, Executing},
	CategoryReport:  {Executing, Monitoring},
	CategoryClosure: {Closing},
	CategoryGeneral: {Initiating, Planning, Executing, Monitoring, Closing},
}

// categoryPrefixes classifies by leading filename token.
var categoryPrefixes = map[string]Category{
	"charter":  CategoryCharter,
	"plan":     CategoryPlan,
	"schedule": CategoryPlan,
	"budget":   CategoryPlan,
	"report":   CategoryReport,
	"status":   CategoryReport,
	"risk":     CategoryReport,
	"closure":  CategoryClosure,
	"retro":    CategoryClosure,
}

// Categorize derives the category from an artifact path, e.g.
// "artifacts/charter.md" -> charter.
func Categorize(artifactPath string) Category {
	name := strings.ToLower(path.Base(artifactPath))
	name = strings.TrimSuffix(name, path.Ext(name))
	for prefix, cat := range categoryPrefixes {
		if name == prefix || strings.HasPrefix(name, prefix+"-") || strings.HasPrefix(name, prefix+"_") {
			return cat
		}
	}
	return CategoryGeneral
}

// CheckProposable verifies every target path is proposable in the current
// phase. Terminal phases accept no proposals at all.
func CheckProposable(current Phase, paths []string) error {
	if Terminal(current) {
		return fault.Newf(fault.CodeInvalidState, "project is %s; no proposals accepted", current)
	}
	for _, p := range paths {
		cat := Categorize(p)
		if !phaseAllowed(categoryPhases[cat], current) {
			return fault.Newf(fault.CodeInvalidState,
				"artifact %s (category %s) is not proposable in phase %s", p, cat, current)
		}
	}
	return nil
}

func phaseAllowed(allowed []Phase, current Phase) bool {
	for _, p := range allowed {
		if p == current {
			return true
		}
	}
	return false
}
