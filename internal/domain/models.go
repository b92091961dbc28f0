package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// DocumentRef points at a question paper, answer key or answer sheet.
// Text takes priority over URL; Topic is only meaningful for answer keys.
type DocumentRef struct {
	URL    string `json:"url,omitempty"`
	ZipURL string `json:"zip_url,omitempty"`
	Text   string `json:"text,omitempty"`
	Topic  string `json:"topic,omitempty"`
}

// HasContent reports whether the reference carries text, a URL or a topic.
func (d *DocumentRef) HasContent() bool {
	if d == nil {
		return false
	}
	return strings.TrimSpace(d.Text) != "" || strings.TrimSpace(d.URL) != "" || strings.TrimSpace(d.Topic) != ""
}

// HasText reports whether the reference already carries extracted text.
func (d *DocumentRef) HasText() bool {
	return d != nil && strings.TrimSpace(d.Text) != ""
}

// StudentInfo is the student metadata attached to a submission.
type StudentInfo struct {
	Name       string `json:"name,omitempty"`
	RollNumber string `json:"roll_number,omitempty"`
	Class      string `json:"class,omitempty"`
	Subject    string `json:"subject,omitempty"`
}

// EvaluationRequest is the body accepted by the evaluate-paper endpoint.
type EvaluationRequest struct {
	TestID        string       `json:"testId"`
	QuestionPaper DocumentRef  `json:"questionPaper"`
	AnswerKey     *DocumentRef `json:"answerKey"`
	StudentAnswer *DocumentRef `json:"studentAnswer"`
	StudentInfo   StudentInfo  `json:"studentInfo"`
	RetryAttempt  int          `json:"retryAttempt,omitempty"`
}

// ImageContent is one fetched image ready to be sent to a vision model.
type ImageContent struct {
	URL       string `json:"url"`
	Data      string `json:"-"`
	MediaType string `json:"media_type"`
}

// ImageFailure records why the image at Index could not be used.
type ImageFailure struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Error string `json:"error"`
}

// ImageProcessingOutcome is the partial-failure tolerant result of fetching a set of images.
// len(Succeeded)+len(Failed) always equals the number of input URLs.
type ImageProcessingOutcome struct {
	Succeeded []ImageContent `json:"succeeded"`
	Failed    []ImageFailure `json:"failed"`
}

// QuestionNumber accepts both JSON numbers and strings ("1", 1, "2(a)").
type QuestionNumber string

func (q *QuestionNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*q = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*q = QuestionNumber(strings.TrimSpace(s))
		return nil
	}
	*q = QuestionNumber(string(data))
	return nil
}

// Number accepts JSON numbers and numeric strings; anything else decodes to zero.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			*n = 0
			return nil
		}
		*n = Number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		*n = 0
		return nil
	}
	*n = Number(f)
	return nil
}

// ExtractedQuestion is one question recovered from an OCR'd question paper.
type ExtractedQuestion struct {
	QuestionNumber QuestionNumber `json:"questionNumber"`
	QuestionText   string         `json:"questionText"`
	Marks          Number         `json:"marks"`
	Topic          string         `json:"topic,omitempty"`
	Difficulty     string         `json:"difficulty,omitempty"`
}

// MatchMethod records how an answer was paired with its question.
type MatchMethod string

const (
	MatchExtractedQuestion MatchMethod = "extracted_question"
	MatchDirectNumbering   MatchMethod = "direct_numbering"
	MatchSemantic          MatchMethod = "semantic_matching"
)

// QuestionMatch is one entry of the best-effort semantic answer matching.
type QuestionMatch struct {
	Question        string  `json:"question"`
	Answer          string  `json:"answer"`
	SimilarityScore float64 `json:"similarityScore"`
}

// AnswerRecord is the graded result for a single question.
// Score is [assigned, maxPossible] with 0 <= assigned <= maxPossible.
type AnswerRecord struct {
	QuestionNumber QuestionNumber `json:"question_no"`
	QuestionText   string         `json:"question"`
	StudentAnswer  string         `json:"answer"`
	ExpectedAnswer string         `json:"expected_answer"`
	Score          [2]float64     `json:"score"`
	Remarks        string         `json:"remarks"`
	Confidence     float64        `json:"confidence"`
	MatchMethod    MatchMethod    `json:"match_method"`
}

// Summary totals an evaluation. TotalScore is [assignedSum, maxSum].
type Summary struct {
	TotalScore [2]float64 `json:"total_score"`
	Percentage float64    `json:"percentage"`
}

// EvaluationResult is the scored answer-by-answer evaluation of one student.
type EvaluationResult struct {
	StudentName string         `json:"student_name"`
	RollNo      string         `json:"roll_no"`
	Class       string         `json:"class"`
	Subject     string         `json:"subject"`
	Answers     []AnswerRecord `json:"answers"`
	Summary     *Summary       `json:"summary"`
}

// EvaluationMetadata is attached to every successful response.
type EvaluationMetadata struct {
	TestID                 string      `json:"testId"`
	EvaluationTimestamp    time.Time   `json:"evaluationTimestamp"`
	QuestionPaperURL       string      `json:"questionPaperUrl,omitempty"`
	AnswerKeyURL           string      `json:"answerKeyUrl,omitempty"`
	StudentAnswerURL       string      `json:"studentAnswerUrl,omitempty"`
	StudentAnswerZipURL    string      `json:"studentAnswerZipUrl,omitempty"`
	IsOcrProcessed         bool        `json:"isOcrProcessed"`
	EvaluationMethod       MatchMethod `json:"evaluationMethod"`
	ExtractedQuestionCount int         `json:"extractedQuestionCount"`
	HasAnswerKey           bool        `json:"hasAnswerKey"`
	RetryAttempt           int         `json:"retryAttempt"`
	QuestionPaperCached    bool        `json:"questionPaperCached"`
	AnswerKeyCached        bool        `json:"answerKeyCached"`
}

// EvaluationResponse is the full success body of the evaluate-paper endpoint.
type EvaluationResponse struct {
	EvaluationResult
	Metadata          EvaluationMetadata `json:"metadata"`
	QuestionPaperText string             `json:"question_paper_text"`
	AnswerKeyText     string             `json:"answer_key_text"`
	Text              string             `json:"text"`
	SemanticMatches   []QuestionMatch    `json:"semantic_matches,omitempty"`
	IsOcrProcessed    bool               `json:"isOcrProcessed"`
}
