package security

import (
	"strings"

	"github.com/shihanpietersz/migration-manager/internal/models"
)

const (
	maxContentBytes = 1 << 20
	maxContentLines = 5000

	scoreCap = 100
)

var severityWeights = map[models.IssueSeverity]int{
	models.SeverityCritical: 40,
	models.SeverityDanger:   20,
	models.SeverityWarning:  10,
	models.SeverityInfo:     2,
}

// Scanner classifies script content into a risk level using pattern rules.
// It is pure and deterministic: the same content and dialect always produce
// the same result, so it can run at create time, update time and as a
// standalone validate-only call.
type Scanner struct{}

func NewScanner() *Scanner {
	return &Scanner{}
}

func (s *Scanner) Scan(content string, dialect models.ScriptDialect) *models.ScanResult {
	issues := []models.SecurityIssue{}
	categories := map[string]bool{}

	rules := universalRules
	switch dialect {
	case models.DialectPowerShell:
		rules = append(powershellRules, universalRules...)
	case models.DialectBash:
		rules = append(bashRules, universalRules...)
	}

	lines := strings.Split(content, "\n")
	inBlockComment := false
	for i, line := range lines {
		skip, stillInBlock := isCommentLine(line, dialect, inBlockComment)
		inBlockComment = stillInBlock
		if skip {
			continue
		}

		for _, r := range rules {
			loc := r.pattern.FindStringIndex(line)
			if loc == nil {
				continue
			}
			issues = append(issues, models.SecurityIssue{
				Severity:    r.severity,
				Line:        i + 1,
				Column:      loc[0] + 1,
				RuleID:      r.id,
				Description: r.description,
				MatchedText: line[loc[0]:loc[1]],
			})
			categories[r.category] = true
		}
	}

	if len(content) > maxContentBytes {
		issues = append(issues, models.SecurityIssue{
			Severity:    models.SeverityWarning,
			Line:        1,
			Column:      1,
			RuleID:      "structure/oversized-content",
			Description: "Script exceeds 1 MiB; large payloads are hard to review and slow to push to targets",
		})
	}
	if len(lines) > maxContentLines {
		issues = append(issues, models.SecurityIssue{
			Severity:    models.SeverityWarning,
			Line:        1,
			Column:      1,
			RuleID:      "structure/too-many-lines",
			Description: "Script exceeds 5000 lines; split it into smaller units",
		})
	}

	score := 0
	for _, issue := range issues {
		score += severityWeights[issue.Severity]
	}
	if score > scoreCap {
		score = scoreCap
	}

	risk := riskLevelForScore(score)

	recommendations := []string{}
	for _, category := range recommendationOrder {
		if categories[category] {
			recommendations = append(recommendations, recommendationText[category])
		}
	}

	return &models.ScanResult{
		RiskLevel:        risk,
		Score:            score,
		Issues:           issues,
		Recommendations:  recommendations,
		CanSave:          risk != models.RiskCritical,
		RequiresApproval: risk == models.RiskHigh,
	}
}

func riskLevelForScore(score int) models.RiskLevel {
	switch {
	case score >= 40:
		return models.RiskCritical
	case score >= 25:
		return models.RiskHigh
	case score >= 10:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// isCommentLine reports whether the line is a pure comment for the dialect,
// and whether a PowerShell block comment continues past this line.
func isCommentLine(line string, dialect models.ScriptDialect, inBlock bool) (skip bool, stillInBlock bool) {
	trimmed := strings.TrimSpace(line)

	if dialect == models.DialectPowerShell {
		if inBlock {
			if strings.Contains(trimmed, "#>") {
				return true, false
			}
			return true, true
		}
		if strings.HasPrefix(trimmed, "<#") {
			return true, !strings.Contains(trimmed, "#>")
		}
	}

	return strings.HasPrefix(trimmed, "#"), false
}
