// Package analyzer 把一次会话内逐帧返回的实时分析结果聚合成可读的总结：
// 平均分、走势、关节角度统计、评级和改进建议。
package analyzer

import (
	"fmt"
	"sort"

	"GoSportVisionKit/internal/analysis"
)

// Grade 会话评级
type Grade string

const (
	GradeExcellent Grade = "A+"
	GradeGood      Grade = "A"
	GradeAverage   Grade = "B"
	GradePoor      Grade = "C"
	GradeCritical  Grade = "D"
)

// Threshold 分数到评级的阈值
type Threshold struct {
	Excellent float64 `json:"excellent"`
	Good      float64 `json:"good"`
	Average   float64 `json:"average"`
	Poor      float64 `json:"poor"`
}

// DefaultThreshold 通用评级阈值
func DefaultThreshold() *Threshold {
	return &Threshold{
		Excellent: 90,
		Good:      80,
		Average:   65,
		Poor:      50,
	}
}

// AngleStats 单个关节角度在会话内的分布
type AngleStats struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
	Samples int     `json:"samples"`
}

// Issue 总结阶段发现的问题
type Issue struct {
	Severity   string `json:"severity"` // "high", "medium", "low"
	Title      string `json:"title"`
	Suggestion string `json:"suggestion"`
}

// Summary 一次会话的聚合结果
type Summary struct {
	Sport        string                `json:"sport"`
	Samples      int                   `json:"samples"`
	AverageScore float64               `json:"average_score"`
	BestScore    float64               `json:"best_score"`
	WorstScore   float64               `json:"worst_score"`
	Trend        float64               `json:"trend"` // 后半段均分减前半段均分
	Grade        Grade                 `json:"grade"`
	JointAngles  map[string]AngleStats `json:"joint_angles,omitempty"`
	Feedback     []string              `json:"feedback,omitempty"`
	Issues       []*Issue              `json:"issues,omitempty"`
}

// SessionAnalyzer 按阈值给会话打分
type SessionAnalyzer struct {
	threshold *Threshold
}

func New(threshold *Threshold) *SessionAnalyzer {
	if threshold == nil {
		threshold = DefaultThreshold()
	}
	return &SessionAnalyzer{threshold: threshold}
}

// Summarize 聚合一次会话的逐帧结果。空输入返回nil。
func (a *SessionAnalyzer) Summarize(sport string, results []*analysis.RealTimeAnalysis) *Summary {
	if len(results) == 0 {
		return nil
	}

	summary := &Summary{
		Sport:       sport,
		Samples:     len(results),
		BestScore:   results[0].Score,
		WorstScore:  results[0].Score,
		JointAngles: make(map[string]AngleStats),
	}

	var total float64
	seen := make(map[string]bool)

	for _, result := range results {
		total += result.Score
		if result.Score > summary.BestScore {
			summary.BestScore = result.Score
		}
		if result.Score < summary.WorstScore {
			summary.WorstScore = result.Score
		}

		for joint, angle := range result.JointAngles {
			stats, ok := summary.JointAngles[joint]
			if !ok {
				stats = AngleStats{Min: angle, Max: angle}
			}
			if angle < stats.Min {
				stats.Min = angle
			}
			if angle > stats.Max {
				stats.Max = angle
			}
			stats.Mean += angle
			stats.Samples++
			summary.JointAngles[joint] = stats
		}

		// 反馈去重，保留首次出现的顺序
		for _, feedback := range result.Feedback {
			if !seen[feedback] {
				seen[feedback] = true
				summary.Feedback = append(summary.Feedback, feedback)
			}
		}
	}

	for joint, stats := range summary.JointAngles {
		stats.Mean /= float64(stats.Samples)
		summary.JointAngles[joint] = stats
	}

	summary.AverageScore = total / float64(len(results))
	summary.Trend = trend(results)
	summary.Grade = a.grade(summary.AverageScore)
	summary.Issues = a.findIssues(summary)

	return summary
}

func (a *SessionAnalyzer) grade(score float64) Grade {
	switch {
	case score >= a.threshold.Excellent:
		return GradeExcellent
	case score >= a.threshold.Good:
		return GradeGood
	case score >= a.threshold.Average:
		return GradeAverage
	case score >= a.threshold.Poor:
		return GradePoor
	default:
		return GradeCritical
	}
}

// trend 后半段均分减前半段均分，正值表示会话内表现在提升
func trend(results []*analysis.RealTimeAnalysis) float64 {
	if len(results) < 2 {
		return 0
	}

	half := len(results) / 2
	var first, second float64
	for i, result := range results {
		if i < half {
			first += result.Score
		} else {
			second += result.Score
		}
	}

	return second/float64(len(results)-half) - first/float64(half)
}

func (a *SessionAnalyzer) findIssues(summary *Summary) []*Issue {
	var issues []*Issue

	if summary.AverageScore < a.threshold.Poor {
		issues = append(issues, &Issue{
			Severity:   "high",
			Title:      "average score below acceptable range",
			Suggestion: "review the basic form before the next session",
		})
	}

	if summary.Trend < -5 {
		issues = append(issues, &Issue{
			Severity:   "medium",
			Title:      fmt.Sprintf("form degraded during the session (%.1f)", summary.Trend),
			Suggestion: "shorten the session or add rest between repetitions",
		})
	}

	if spread := summary.BestScore - summary.WorstScore; spread > 30 && summary.Samples >= 4 {
		issues = append(issues, &Issue{
			Severity:   "low",
			Title:      fmt.Sprintf("inconsistent execution, score spread %.1f", spread),
			Suggestion: "focus on repeatability rather than peak performance",
		})
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return severityRank(issues[i].Severity) < severityRank(issues[j].Severity)
	})

	return issues
}

func severityRank(severity string) int {
	switch severity {
	case "high":
		return 0
	case "medium":
		return 1
	default:
		return 2
	}
}
