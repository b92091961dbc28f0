// Package evaluator grades a student's answers with the model and normalizes the scores it returns.
package evaluator

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"assesslab/internal/domain"
	"assesslab/internal/jsonrepair"
	"assesslab/internal/logger"
	"assesslab/internal/port"
)

const (
	evalMaxTokens   = 8192
	evalTemperature = 0.2
)

// Input carries everything the grader sees.
type Input struct {
	Questions         []domain.ExtractedQuestion
	QuestionPaperText string
	AnswerKeyText     string
	StudentAnswerText string
	StudentInfo       domain.StudentInfo
	Matches           []domain.QuestionMatch
}

// Method reports which prompt shape Evaluate will use for in.
func (in Input) Method() domain.MatchMethod {
	switch {
	case len(in.Questions) > 0 && strings.TrimSpace(in.StudentAnswerText) != "":
		return domain.MatchExtractedQuestion
	case len(in.Matches) > 0:
		return domain.MatchSemantic
	default:
		return domain.MatchDirectNumbering
	}
}

// Evaluator grades answers.
type Evaluator struct {
	client port.ModelClient
	log    *zap.Logger
}

// New creates an Evaluator.
func New(client port.ModelClient, log *zap.Logger) *Evaluator {
	return &Evaluator{client: client, log: logger.OrNop(log).Named("evaluator")}
}

// Evaluate grades the student answer and returns a normalized result.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (*domain.EvaluationResult, domain.MatchMethod, error) {
	if strings.TrimSpace(in.StudentAnswerText) == "" {
		return nil, "", fmt.Errorf("%w: student answer text is empty", domain.ErrInvalidInput)
	}

	method := in.Method()
	var prompt string
	if method == domain.MatchExtractedQuestion {
		prompt = BuildStructuredPrompt(in)
	} else {
		prompt = BuildRawTextPrompt(in, method)
	}
	e.log.Info("evaluating", zap.String("method", string(method)), zap.Int("questions", len(in.Questions)))

	resp, err := e.client.InvokeText(ctx, port.TextRequest{
		Messages:     []port.Message{{Role: "user", Content: prompt}},
		MaxTokens:    evalMaxTokens,
		Temperature:  evalTemperature,
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		return nil, method, fmt.Errorf("evaluation call: %w", err)
	}

	result, err := ParseResult(resp.Text)
	if err != nil {
		return nil, method, err
	}

	applyStudentInfo(result, in.StudentInfo)
	fillMaxMarks(result, in.Questions)
	for i := range result.Answers {
		if result.Answers[i].MatchMethod == "" {
			result.Answers[i].MatchMethod = method
		}
	}
	Normalize(result)
	return result, method, nil
}

type rawAnswer struct {
	QuestionNumber domain.QuestionNumber `json:"question_no"`
	QuestionText   string                `json:"question"`
	StudentAnswer  string                `json:"answer"`
	ExpectedAnswer string                `json:"expected_answer"`
	Score          []domain.Number       `json:"score"`
	Remarks        string                `json:"remarks"`
	Confidence     domain.Number         `json:"confidence"`
	MatchMethod    domain.MatchMethod    `json:"match_method"`
}

type rawResult struct {
	StudentName string       `json:"student_name"`
	RollNo      string       `json:"roll_no"`
	Class       string       `json:"class"`
	Subject     string       `json:"subject"`
	Answers     *[]rawAnswer `json:"answers"`
	Summary     *struct {
		TotalScore []domain.Number `json:"total_score"`
		Percentage domain.Number   `json:"percentage"`
	} `json:"summary"`
}

// ParseResult decodes model output with the fallback parser and requires answers and summary.
func ParseResult(text string) (*domain.EvaluationResult, error) {
	var raw rawResult
	if _, err := jsonrepair.Unmarshal(text, &raw); err != nil {
		return nil, fmt.Errorf("evaluation result: %w", err)
	}
	if raw.Answers == nil {
		return nil, fmt.Errorf("%w: evaluation result has no answers array", domain.ErrParse)
	}
	if raw.Summary == nil {
		return nil, fmt.Errorf("%w: evaluation result has no summary", domain.ErrParse)
	}

	result := &domain.EvaluationResult{
		StudentName: raw.StudentName,
		RollNo:      raw.RollNo,
		Class:       raw.Class,
		Subject:     raw.Subject,
		Answers:     make([]domain.AnswerRecord, 0, len(*raw.Answers)),
		Summary: &domain.Summary{
			TotalScore: pair(raw.Summary.TotalScore),
			Percentage: float64(raw.Summary.Percentage),
		},
	}
	for _, a := range *raw.Answers {
		result.Answers = append(result.Answers, domain.AnswerRecord{
			QuestionNumber: a.QuestionNumber,
			QuestionText:   a.QuestionText,
			StudentAnswer:  a.StudentAnswer,
			ExpectedAnswer: a.ExpectedAnswer,
			Score:          pair(a.Score),
			Remarks:        a.Remarks,
			Confidence:     float64(a.Confidence),
			MatchMethod:    a.MatchMethod,
		})
	}
	return result, nil
}

func pair(ns []domain.Number) [2]float64 {
	var out [2]float64
	for i := 0; i < len(ns) && i < 2; i++ {
		out[i] = float64(ns[i])
	}
	return out
}

// Normalize clamps each score into [0, max] and confidence into [0, 1], then recomputes the
// summary from the answers. The model's own totals are discarded.
func Normalize(result *domain.EvaluationResult) {
	if result == nil {
		return
	}
	var assigned, possible float64
	for i := range result.Answers {
		a := &result.Answers[i]
		maxScore := math.Max(sanitize(a.Score[1]), 0)
		a.Score = [2]float64{clamp(sanitize(a.Score[0]), 0, maxScore), maxScore}
		a.Confidence = clamp(sanitize(a.Confidence), 0, 1)
		assigned += a.Score[0]
		possible += a.Score[1]
	}

	percentage := 0.0
	if possible > 0 {
		percentage = math.Round(assigned/possible*10000) / 100
	}
	result.Summary = &domain.Summary{TotalScore: [2]float64{assigned, possible}, Percentage: percentage}
}

func applyStudentInfo(result *domain.EvaluationResult, info domain.StudentInfo) {
	if info.Name != "" {
		result.StudentName = info.Name
	}
	if info.RollNumber != "" {
		result.RollNo = info.RollNumber
	}
	if info.Class != "" {
		result.Class = info.Class
	}
	if info.Subject != "" {
		result.Subject = info.Subject
	}
}

// fillMaxMarks uses the extracted marks where the model left a question's maximum at zero.
func fillMaxMarks(result *domain.EvaluationResult, questions []domain.ExtractedQuestion) {
	if len(questions) == 0 {
		return
	}
	marks := make(map[string]float64, len(questions))
	for _, q := range questions {
		marks[normalizeNumber(string(q.QuestionNumber))] = float64(q.Marks)
	}
	for i := range result.Answers {
		a := &result.Answers[i]
		if a.Score[1] > 0 {
			continue
		}
		if m, ok := marks[normalizeNumber(string(a.QuestionNumber))]; ok && m > 0 {
			a.Score[1] = m
		}
	}
}

func normalizeNumber(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "q")
	return strings.Trim(s, ". ")
}

func sanitize(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
