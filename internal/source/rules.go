package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/tidwall/gjson"
)

// RulesVersion identifies the extraction rule lists below. Bump it whenever
// a default path or the evaluation order changes so logs show which rules
// produced a reading.
const RulesVersion = 2

// DefaultJSONFields is the path list tried when source.fields is empty.
var DefaultJSONFields = []string{
	"holders",
	"holder_count",
	"data.holders",
	"data.holder_count",
	"result.holders",
	"stats.holders",
}

// Rule extracts a candidate integer from a response body.
type Rule struct {
	Name    string
	Extract func(body []byte) (int64, bool)
}

// RuleSet is an ordered list of rules; the first rule that yields a value wins.
type RuleSet struct {
	Mode    string
	Version int
	Rules   []Rule
	// Validate rejects bodies no rule could ever match (e.g. invalid JSON).
	Validate func(body []byte) error
}

var errNoValue = errors.New("no usable integer in response")

// Apply evaluates the rules in order and returns the value and the name of
// the rule that produced it.
func (rs RuleSet) Apply(body []byte) (int64, string, error) {
	if rs.Validate != nil {
		if err := rs.Validate(body); err != nil {
			return 0, "", err
		}
	}
	for _, r := range rs.Rules {
		if v, ok := r.Extract(body); ok {
			return v, r.Name, nil
		}
	}
	return 0, "", errNoValue
}

// NewRuleSet builds the rule list for a source mode.
func NewRuleSet(mode string, fields []string, keyword, metric string, floor int64) (RuleSet, error) {
	switch mode {
	case "json":
		if len(fields) == 0 {
			fields = DefaultJSONFields
		}
		return jsonRules(fields), nil
	case "text":
		return textRules(keyword, floor), nil
	case "prometheus":
		if metric == "" {
			return RuleSet{}, fmt.Errorf("prometheus mode needs a metric name")
		}
		return promRules(metric), nil
	default:
		return RuleSet{}, fmt.Errorf("unsupported mode %q", mode)
	}
}

// ── json ─────────────────────────────────────────────────────────────────────

func jsonRules(paths []string) RuleSet {
	rs := RuleSet{
		Mode:    "json",
		Version: RulesVersion,
		Validate: func(body []byte) error {
			if !gjson.ValidBytes(body) {
				return errors.New("response is not valid JSON")
			}
			return nil
		},
	}
	for _, p := range paths {
		path := p
		rs.Rules = append(rs.Rules, Rule{
			Name:    "json:" + path,
			Extract: func(body []byte) (int64, bool) { return jsonInt(gjson.GetBytes(body, path)) },
		})
	}
	return rs
}

// jsonInt accepts a non-negative whole number or a digit string such as "12,345".
func jsonInt(r gjson.Result) (int64, bool) {
	switch r.Type {
	case gjson.Number:
		if r.Num < 0 || r.Num != math.Trunc(r.Num) || r.Num > math.MaxInt64 {
			return 0, false
		}
		return r.Int(), true
	case gjson.String:
		return parseDigits(r.Str)
	default:
		return 0, false
	}
}

// parseDigits parses a decimal string, ignoring thousands separators.
func parseDigits(s string) (int64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ── text ─────────────────────────────────────────────────────────────────────

var (
	integerToken = regexp.MustCompile(`\d{1,3}(?:,\d{3})+|\d+`)
	// keywordWindow is the largest byte gap between a token and the keyword
	// for the token to count as labelled by it.
	keywordWindow = 40
)

type textToken struct {
	value int64
	// dist is the byte gap to the nearest keyword, -1 when none is in range.
	dist int
}

func textRules(keyword string, floor int64) RuleSet {
	kw := []byte(strings.ToLower(keyword))
	scan := func(body []byte) []textToken {
		var kwAt [][2]int
		if len(kw) > 0 {
			lower := bytes.ToLower(body)
			for off := 0; ; {
				i := bytes.Index(lower[off:], kw)
				if i < 0 {
					break
				}
				kwAt = append(kwAt, [2]int{off + i, off + i + len(kw)})
				off += i + len(kw)
			}
		}
		var out []textToken
		for _, loc := range integerToken.FindAllIndex(body, -1) {
			v, ok := parseDigits(string(body[loc[0]:loc[1]]))
			if !ok || v < floor {
				continue
			}
			tok := textToken{value: v, dist: -1}
			for _, k := range kwAt {
				d := max(k[0]-loc[1], loc[0]-k[1], 0)
				if d <= keywordWindow && (tok.dist < 0 || d < tok.dist) {
					tok.dist = d
				}
			}
			out = append(out, tok)
		}
		return out
	}

	return RuleSet{
		Mode:    "text",
		Version: RulesVersion,
		Rules: []Rule{
			{
				Name: "text:keyword",
				Extract: func(body []byte) (int64, bool) {
					best := textToken{dist: -1}
					for _, t := range scan(body) {
						if t.dist >= 0 && (best.dist < 0 || t.dist < best.dist) {
							best = t
						}
					}
					return best.value, best.dist >= 0
				},
			},
			{
				Name: "text:max",
				Extract: func(body []byte) (int64, bool) {
					toks := scan(body)
					if len(toks) == 0 {
						return 0, false
					}
					sort.Slice(toks, func(i, j int) bool { return toks[i].value > toks[j].value })
					return toks[0].value, true
				},
			},
		},
	}
}

// ── prometheus ───────────────────────────────────────────────────────────────

func promRules(metric string) RuleSet {
	return RuleSet{
		Mode:    "prometheus",
		Version: RulesVersion,
		Rules: []Rule{{
			Name: "prometheus:" + metric,
			Extract: func(body []byte) (int64, bool) {
				mfs, err := parseMetrics(bytes.NewReader(body))
				if err != nil {
					return 0, false
				}
				mf, ok := mfs[metric]
				if !ok {
					return 0, false
				}
				total := sumFamily(mf)
				if total < 0 || math.IsNaN(total) || total > math.MaxInt64 {
					return 0, false
				}
				return int64(math.Round(total)), true
			},
		}},
	}
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
func sumFamily(mf *dto.MetricFamily) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}
