package security

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	sigma "github.com/bradleyjkemp/sigma-go"
	sigmaevaluator "github.com/bradleyjkemp/sigma-go/evaluator"

	"scadaflow/internal/logger"
	"scadaflow/pkg/models"
)

// LoadStats tracks the number of loaded and skipped rules.
type LoadStats struct {
	TotalFiles        int
	Loaded            int
	SkippedComplex    int
	SkippedDatasource int
	SkippedInvalid    int
}

type compiledRule struct {
	rule sigma.Rule
	eval *sigmaevaluator.RuleEvaluator
	tags []string
}

// Tagger evaluates Sigma rules against individual normalized entries
// and stamps matches into the entry's security tags. Matching never
// blocks or drops an entry; a hostile log line still flows through.
type Tagger struct {
	rules []compiledRule
	ctx   context.Context
}

// NewTagger loads Sigma rules from a file or directory and compiles
// evaluators. Unsupported or complex rules are skipped and counted.
func NewTagger(path string) (*Tagger, LoadStats, error) {
	var stats LoadStats

	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, stats, fmt.Errorf("resolve rule path: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, stats, fmt.Errorf("stat rule path: %w", err)
	}

	files := make([]string, 0, 64)
	if info.IsDir() {
		err = filepath.WalkDir(resolved, func(filePath string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if entry.IsDir() {
				return nil
			}
			if isYAMLFile(filePath) {
				files = append(files, filePath)
			}
			return nil
		})
		if err != nil {
			return nil, stats, fmt.Errorf("walk rule directory: %w", err)
		}
	} else {
		if !isYAMLFile(resolved) {
			return nil, stats, fmt.Errorf("rule file must end with .yml or .yaml: %s", resolved)
		}
		files = append(files, resolved)
	}

	stats.TotalFiles = len(files)
	compiled := make([]compiledRule, 0, len(files))
	for _, ruleFile := range files {
		rule, err := parseRuleFile(ruleFile)
		if err != nil {
			stats.SkippedInvalid++
			continue
		}

		if !isCompatibleLogsource(rule) {
			stats.SkippedDatasource++
			continue
		}

		if ok, _ := isSimpleSingleEventRule(rule); !ok {
			stats.SkippedComplex++
			continue
		}

		compiled = append(compiled, compiledRule{
			rule: rule,
			eval: sigmaevaluator.ForRule(rule),
			tags: tagsFromRule(rule),
		})
		stats.Loaded++
	}

	logger.Infof("security tagger: %d of %d sigma rules loaded (%d invalid, %d wrong datasource, %d complex)",
		stats.Loaded, stats.TotalFiles, stats.SkippedInvalid, stats.SkippedDatasource, stats.SkippedComplex)
	return &Tagger{rules: compiled, ctx: context.Background()}, stats, nil
}

// Apply evaluates all loaded rules and returns the tags of the matched
// ones. Evaluator errors skip the rule, not the entry.
func (t *Tagger) Apply(e *models.LogEntry) []string {
	if t == nil || e == nil || len(t.rules) == 0 {
		return nil
	}

	eventMap := eventFrom(e)
	var out []string
	for _, rule := range t.rules {
		res, err := rule.eval.Matches(t.ctx, eventMap)
		if err != nil {
			continue
		}
		if res.Match {
			out = append(out, rule.tags...)
		}
	}
	return out
}

// RuleCount reports how many rules are active.
func (t *Tagger) RuleCount() int {
	if t == nil {
		return 0
	}
	return len(t.rules)
}

func parseRuleFile(path string) (sigma.Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return sigma.Rule{}, fmt.Errorf("read sigma rule %s: %w", path, err)
	}
	rule, err := sigma.ParseRule(raw)
	if err != nil {
		return sigma.Rule{}, fmt.Errorf("parse sigma rule %s: %w", path, err)
	}
	return rule, nil
}

func isYAMLFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml")
}

// isCompatibleLogsource accepts rules written for industrial sources
// and generic application logs. Windows endpoint rules and the like
// would never match the normalized field set.
func isCompatibleLogsource(rule sigma.Rule) bool {
	product := strings.ToLower(strings.TrimSpace(rule.Logsource.Product))
	category := strings.ToLower(strings.TrimSpace(rule.Logsource.Category))

	switch product {
	case "", "scada", "ics", "application":
	default:
		return false
	}
	switch category {
	case "", "application", "process_control", "authentication":
		return true
	default:
		return false
	}
}

func isSimpleSingleEventRule(rule sigma.Rule) (bool, string) {
	if rule.Detection.Timeframe > 0 {
		return false, "timeframe is not supported"
	}

	for _, cond := range rule.Detection.Conditions {
		if cond.Aggregation != nil {
			return false, "aggregation condition is not supported"
		}
		if !isSimpleSearchExpression(cond.Search) {
			return false, "complex condition expression is not supported"
		}
	}

	for _, search := range rule.Detection.Searches {
		if len(search.Keywords) > 0 {
			return false, "keyword search is not supported"
		}
		if len(search.EventMatchers) == 0 {
			return false, "search has no event matchers"
		}
	}

	return true, ""
}

func isSimpleSearchExpression(expr sigma.SearchExpr) bool {
	switch e := expr.(type) {
	case sigma.SearchIdentifier:
		return true
	case sigma.And:
		for _, child := range e {
			if !isSimpleSearchExpression(child) {
				return false
			}
		}
		return true
	case sigma.Or:
		for _, child := range e {
			if !isSimpleSearchExpression(child) {
				return false
			}
		}
		return true
	case sigma.Not:
		return isSimpleSearchExpression(e.Expr)
	default:
		return false
	}
}

// eventFrom flattens the entry into the field map sigma matchers see.
func eventFrom(e *models.LogEntry) map[string]interface{} {
	buf := make(map[string]interface{}, len(e.Extra)+12)
	for k, v := range e.Extra {
		buf[k] = v
	}
	buf["Message"] = e.Message
	buf["System"] = string(e.System)
	buf["Severity"] = e.Severity.String()
	buf["Category"] = string(e.Category)
	if e.SourceNode != "" {
		buf["SourceNode"] = e.SourceNode
	}
	if e.TagName != "" {
		buf["TagName"] = e.TagName
	}
	if e.AlarmType != "" {
		buf["AlarmType"] = string(e.AlarmType)
	}
	if e.OperatorID != "" {
		buf["OperatorID"] = e.OperatorID
		buf["User"] = e.OperatorID
	}
	if e.ConnectionID != "" {
		buf["ConnectionID"] = e.ConnectionID
	}
	return buf
}

func tagsFromRule(rule sigma.Rule) []string {
	primary := strings.TrimSpace(rule.Title)
	if primary == "" {
		primary = strings.TrimSpace(rule.ID)
	}
	tags := []string{slugify(primary)}
	for _, raw := range rule.Tags {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(tag, "attack.") {
			tags = append(tags, tag)
		}
	}
	return tags
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "_")
}
