// Package extract turns question papers, answer keys and answer sheets into text and
// structured questions using the model client.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"assesslab/internal/domain"
	"assesslab/internal/jsonrepair"
	"assesslab/internal/logger"
	"assesslab/internal/port"
	"assesslab/internal/vision"
)

const (
	ocrMaxTokens        = 4096
	questionsMaxTokens  = 4096
	matchMaxTokens      = 4096
	questionTemperature = 0.1
)

// PageResolver turns a document URL into image URLs suitable for vision calls.
type PageResolver interface {
	ResolvePagesAsImages(ctx context.Context, documentURL string) ([]string, error)
}

// VisionRunner runs a prompt over a list of images.
type VisionRunner interface {
	ProcessImagesWithVision(ctx context.Context, prompt string, imageURLs []string, opts vision.Options) (string, error)
}

// Extractor performs OCR and structured extraction.
type Extractor struct {
	client   port.ModelClient
	vision   VisionRunner
	resolver PageResolver
	log      *zap.Logger
}

// New creates an Extractor.
func New(client port.ModelClient, runner VisionRunner, resolver PageResolver, log *zap.Logger) *Extractor {
	return &Extractor{
		client:   client,
		vision:   runner,
		resolver: resolver,
		log:      logger.OrNop(log).Named("extract"),
	}
}

// DocumentText returns the text for doc. Inline text is returned as is; a topic-only answer key
// becomes "Topic: <topic>"; URLs are resolved to page images and transcribed. ocr reports whether
// a vision call produced the text.
func (e *Extractor) DocumentText(ctx context.Context, role Role, doc *domain.DocumentRef) (text string, ocr bool, err error) {
	switch {
	case doc == nil:
		return "", false, fmt.Errorf("%w: %s is missing", domain.ErrInvalidInput, role)
	case doc.HasText():
		return strings.TrimSpace(doc.Text), false, nil
	case strings.TrimSpace(doc.URL) != "":
		text, err := e.OCR(ctx, role, doc.URL)
		return text, err == nil, err
	case role == RoleAnswerKey && strings.TrimSpace(doc.Topic) != "":
		return "Topic: " + strings.TrimSpace(doc.Topic), false, nil
	default:
		return "", false, fmt.Errorf("%w: %s has no text or url", domain.ErrInvalidInput, role)
	}
}

// OCR transcribes the document at documentURL with the role's prompts.
func (e *Extractor) OCR(ctx context.Context, role Role, documentURL string) (string, error) {
	images, err := e.resolver.ResolvePagesAsImages(ctx, documentURL)
	if err != nil {
		return "", err
	}
	e.log.Info("running OCR", zap.String("role", string(role)), zap.Int("images", len(images)))

	text, err := e.vision.ProcessImagesWithVision(ctx, role.UserPrompt(), images, vision.Options{
		MaxTokens:    ocrMaxTokens,
		Temperature:  0,
		SystemPrompt: role.SystemPrompt(),
	})
	if err != nil {
		return "", fmt.Errorf("%s OCR: %w", role, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: %s OCR produced no text", domain.ErrDocumentAccess, role)
	}
	return text, nil
}

type questionEnvelope struct {
	Questions []domain.ExtractedQuestion `json:"questions"`
}

// ExtractQuestions asks the model for the structured questions of a paper. It never fails:
// on any error the result degrades to an empty list.
func (e *Extractor) ExtractQuestions(ctx context.Context, questionPaperText string) SoftResult[[]domain.ExtractedQuestion] {
	empty := []domain.ExtractedQuestion{}
	if strings.TrimSpace(questionPaperText) == "" {
		return soft(empty, errors.New("question paper text is empty"))
	}

	resp, err := e.client.InvokeText(ctx, port.TextRequest{
		Messages:    []port.Message{{Role: "user", Content: BuildQuestionExtractionPrompt(questionPaperText)}},
		MaxTokens:   questionsMaxTokens,
		Temperature: questionTemperature,
	})
	if err != nil {
		e.log.Warn("question extraction call failed", zap.Error(err))
		return soft(empty, err)
	}

	questions, err := ParseQuestions(resp.Text)
	if err != nil {
		e.log.Warn("question extraction output unparseable", zap.Error(err))
		return soft(empty, err)
	}
	e.log.Info("extracted questions", zap.Int("count", len(questions)))
	return soft(questions, nil)
}

// ParseQuestions decodes a {"questions": [...]} envelope and drops entries without text.
func ParseQuestions(text string) ([]domain.ExtractedQuestion, error) {
	var env questionEnvelope
	if _, err := jsonrepair.Unmarshal(text, &env); err != nil {
		return nil, err
	}
	if env.Questions == nil {
		return nil, fmt.Errorf("%w: response has no questions array", domain.ErrParse)
	}
	out := make([]domain.ExtractedQuestion, 0, len(env.Questions))
	for _, q := range env.Questions {
		if strings.TrimSpace(q.QuestionText) == "" {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

// MatchAnswers pairs questions with the student's answers. Failures degrade to no matches.
func (e *Extractor) MatchAnswers(ctx context.Context, questionPaperText, studentAnswerText string) SoftResult[[]domain.QuestionMatch] {
	empty := []domain.QuestionMatch{}
	if strings.TrimSpace(questionPaperText) == "" || strings.TrimSpace(studentAnswerText) == "" {
		return soft(empty, errors.New("nothing to match"))
	}

	resp, err := e.client.InvokeText(ctx, port.TextRequest{
		Messages:    []port.Message{{Role: "user", Content: BuildSemanticMatchPrompt(questionPaperText, studentAnswerText)}},
		MaxTokens:   matchMaxTokens,
		Temperature: questionTemperature,
	})
	if err != nil {
		e.log.Warn("semantic matching call failed", zap.Error(err))
		return soft(empty, err)
	}

	var matches []domain.QuestionMatch
	if _, err := jsonrepair.Unmarshal(resp.Text, &matches); err != nil {
		e.log.Warn("semantic matching output unparseable", zap.Error(err))
		return soft(empty, err)
	}
	if matches == nil {
		matches = empty
	}
	return soft(matches, nil)
}
