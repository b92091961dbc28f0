// Package pipeline runs one paper evaluation end to end: input validation, a connectivity check,
// cached OCR lookup, extraction and grading under a global deadline.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"assesslab/internal/domain"
	"assesslab/internal/evaluator"
	"assesslab/internal/extract"
	"assesslab/internal/llm"
	"assesslab/internal/logger"
	"assesslab/internal/port"
)

const (
	defaultTimeout      = 5 * time.Minute
	connectivityTimeout = 30 * time.Second
	archivePrefix       = "evaluations"
)

// DocumentExtractor produces document text and best-effort structure.
type DocumentExtractor interface {
	DocumentText(ctx context.Context, role extract.Role, doc *domain.DocumentRef) (string, bool, error)
	ExtractQuestions(ctx context.Context, questionPaperText string) extract.SoftResult[[]domain.ExtractedQuestion]
	MatchAnswers(ctx context.Context, questionPaperText, studentAnswerText string) extract.SoftResult[[]domain.QuestionMatch]
}

// Grader scores a student's answers.
type Grader interface {
	Evaluate(ctx context.Context, in evaluator.Input) (*domain.EvaluationResult, domain.MatchMethod, error)
}

// Recorder observes finished evaluations.
type Recorder interface {
	EvaluationFinished(outcome string, elapsed time.Duration)
}

// Deps are the collaborators of a Pipeline. Store, Archive and Metrics are optional.
type Deps struct {
	Client           port.ModelClient
	Extractor        DocumentExtractor
	Grader           Grader
	Store            port.OCRTextStore
	Archive          port.ObjectStorage
	ArchiveBucket    string
	CheckCredentials func() error
	Metrics          Recorder
	Timeout          time.Duration
	Now              func() time.Time
}

// Pipeline evaluates papers.
type Pipeline struct {
	deps Deps
	log  *zap.Logger
}

// New creates a Pipeline.
func New(deps Deps, log *zap.Logger) *Pipeline {
	if deps.Timeout <= 0 {
		deps.Timeout = defaultTimeout
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{deps: deps, log: logger.OrNop(log).Named("pipeline")}
}

// progress tracks what a run has produced so far; it feeds retry diagnostics.
type progress struct {
	mu                  sync.Mutex
	stage               string
	questionPaperText   string
	answerKeyText       string
	studentAnswerText   string
	questionPaperCached bool
	answerKeyCached     bool
	questionCount       int
}

func (p *progress) set(fn func(p *progress)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *progress) details(req *domain.EvaluationRequest) map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]any{
		"stage":                  p.stage,
		"retryAttempt":           req.RetryAttempt,
		"hasQuestionPaperUrl":    req.QuestionPaper.URL != "",
		"hasAnswerKey":           req.AnswerKey.HasContent(),
		"hasStudentAnswerUrl":    req.StudentAnswer != nil && req.StudentAnswer.URL != "",
		"hasQuestionPaperText":   p.questionPaperText != "",
		"hasAnswerKeyText":       p.answerKeyText != "",
		"hasStudentAnswerText":   p.studentAnswerText != "",
		"questionPaperCached":    p.questionPaperCached,
		"answerKeyCached":        p.answerKeyCached,
		"extractedQuestionCount": p.questionCount,
	}
}

// Evaluate runs the whole pipeline for req.
func (p *Pipeline) Evaluate(ctx context.Context, req *domain.EvaluationRequest) (*domain.EvaluationResponse, error) {
	start := p.deps.Now()
	log := p.log.With(zap.String("request_id", logger.RequestID(ctx)), zap.String("test_id", req.TestID))

	resp, err := p.evaluate(ctx, req, log)

	outcome := "success"
	if err != nil {
		outcome = outcomeOf(err)
		log.Error("evaluation failed", zap.String("outcome", outcome), zap.Error(err))
	} else {
		log.Info("evaluation completed", zap.Duration("elapsed", p.deps.Now().Sub(start)))
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.EvaluationFinished(outcome, p.deps.Now().Sub(start))
	}
	return resp, err
}

func (p *Pipeline) evaluate(ctx context.Context, req *domain.EvaluationRequest, log *zap.Logger) (*domain.EvaluationResponse, error) {
	log.Debug("stage", zap.String("stage", "validate_input"))
	if err := p.validate(req); err != nil {
		return nil, err
	}

	log.Debug("stage", zap.String("stage", "verify_connectivity"))
	if err := p.verifyConnectivity(ctx); err != nil {
		return nil, err
	}

	log.Debug("stage", zap.String("stage", "resolve_cached_text"))
	prog := &progress{}
	p.resolveCachedText(ctx, req, prog, log)

	runCtx, cancel := context.WithTimeout(ctx, p.deps.Timeout)
	defer cancel()

	type outcome struct {
		resp *domain.EvaluationResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := p.extractAndEvaluate(runCtx, req, prog, log)
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, p.timeoutError(req, prog)
			}
			return nil, p.processingError(req, prog, out.err)
		}
		p.archive(ctx, req.TestID, out.resp, log)
		return out.resp, nil
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, p.timeoutError(req, prog)
	}
}

func (p *Pipeline) validate(req *domain.EvaluationRequest) error {
	if strings.TrimSpace(req.TestID) == "" {
		return domain.NewPipelineError(domain.ErrInvalidInput, "testId is required", nil)
	}
	if !req.StudentAnswer.HasContent() || (req.StudentAnswer.URL == "" && !req.StudentAnswer.HasText()) {
		return domain.NewPipelineError(domain.ErrInvalidInput, "studentAnswer with a url or text is required", nil)
	}
	if !req.QuestionPaper.HasContent() {
		return domain.NewPipelineError(domain.ErrInvalidInput, "questionPaper with a url or text is required", nil)
	}
	if p.deps.CheckCredentials != nil {
		if err := p.deps.CheckCredentials(); err != nil {
			return domain.NewPipelineError(domain.ErrConfiguration, "Model credentials are not configured", err).
				WithHelp("Set AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and AWS_REGION (or OPENAI_API_KEY for the openai provider).")
		}
	}
	return nil
}

func (p *Pipeline) verifyConnectivity(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, connectivityTimeout)
	defer cancel()

	_, err := p.deps.Client.InvokeText(cctx, port.TextRequest{
		Messages:    []port.Message{{Role: "user", Content: "Test connection"}},
		MaxTokens:   10,
		Temperature: 0,
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrConfiguration) {
		return domain.NewPipelineError(domain.ErrConfiguration, "Model credentials are not configured", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	kind, help := ClassifyConnectivityError(err)
	return domain.NewPipelineError(domain.ErrConnectivity, "Failed to connect to the model endpoint", err).
		WithHelp(help).
		WithDetails(map[string]any{"errorType": string(kind)})
}

func (p *Pipeline) resolveCachedText(ctx context.Context, req *domain.EvaluationRequest, prog *progress, log *zap.Logger) {
	if p.deps.Store == nil {
		return
	}
	if !req.QuestionPaper.HasText() && req.QuestionPaper.URL != "" {
		if text, ok := p.lookup(ctx, req.QuestionPaper.URL, log); ok {
			req.QuestionPaper.Text = text
			prog.set(func(p *progress) { p.questionPaperCached = true })
		}
	}
	if req.AnswerKey != nil && !req.AnswerKey.HasText() && req.AnswerKey.URL != "" {
		if text, ok := p.lookup(ctx, req.AnswerKey.URL, log); ok {
			req.AnswerKey.Text = text
			prog.set(func(p *progress) { p.answerKeyCached = true })
		}
	}
}

func (p *Pipeline) lookup(ctx context.Context, url string, log *zap.Logger) (string, bool) {
	text, found, err := p.deps.Store.Lookup(ctx, url)
	if err != nil {
		log.Warn("cached OCR lookup failed", zap.String("url", url), zap.Error(err))
		return "", false
	}
	if !found || strings.TrimSpace(text) == "" {
		return "", false
	}
	log.Info("using cached OCR text", zap.String("url", url))
	return text, true
}

func (p *Pipeline) extractAndEvaluate(ctx context.Context, req *domain.EvaluationRequest, prog *progress, log *zap.Logger) (*domain.EvaluationResponse, error) {
	ex := p.deps.Extractor

	prog.set(func(p *progress) { p.stage = "extract_student_answer" })
	log.Debug("stage", zap.String("stage", "extract_student_answer"))
	studentText, _, err := ex.DocumentText(ctx, extract.RoleAnswerSheet, req.StudentAnswer)
	if err != nil {
		return nil, fmt.Errorf("processing student answer sheet: %w", err)
	}
	prog.set(func(p *progress) { p.studentAnswerText = studentText })

	prog.set(func(p *progress) { p.stage = "extract_question_paper" })
	questionText, questionOCR, err := ex.DocumentText(ctx, extract.RoleQuestionPaper, &req.QuestionPaper)
	if err != nil {
		return nil, fmt.Errorf("processing question paper: %w", err)
	}
	prog.set(func(p *progress) { p.questionPaperText = questionText })
	if questionOCR {
		p.saveText(ctx, req.QuestionPaper.URL, questionText, log)
	}

	var answerKeyText string
	if req.AnswerKey.HasContent() {
		prog.set(func(p *progress) { p.stage = "extract_answer_key" })
		text, keyOCR, err := ex.DocumentText(ctx, extract.RoleAnswerKey, req.AnswerKey)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			log.Warn("answer key unavailable, grading without it", zap.Error(err))
		default:
			answerKeyText = text
			if keyOCR {
				p.saveText(ctx, req.AnswerKey.URL, text, log)
			}
		}
	}
	prog.set(func(p *progress) { p.answerKeyText = answerKeyText })

	prog.set(func(p *progress) { p.stage = "extract_structure" })
	var (
		questions extract.SoftResult[[]domain.ExtractedQuestion]
		matches   extract.SoftResult[[]domain.QuestionMatch]
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		questions = ex.ExtractQuestions(gctx, questionText)
		return nil
	})
	g.Go(func() error {
		matches = ex.MatchAnswers(gctx, questionText, studentText)
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if questions.Degraded() {
		log.Info("question extraction degraded, using raw question text", zap.Error(questions.Err))
	}
	if matches.Degraded() {
		log.Debug("semantic matching skipped", zap.Error(matches.Err))
	}
	prog.set(func(p *progress) { p.questionCount = len(questions.Value) })

	prog.set(func(p *progress) { p.stage = "evaluate" })
	log.Debug("stage", zap.String("stage", "evaluate"))
	result, method, err := p.deps.Grader.Evaluate(ctx, evaluator.Input{
		Questions:         questions.Value,
		QuestionPaperText: questionText,
		AnswerKeyText:     answerKeyText,
		StudentAnswerText: studentText,
		StudentInfo:       req.StudentInfo,
		Matches:           matches.Value,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluating answers: %w", err)
	}

	prog.set(func(p *progress) { p.stage = "respond" })
	qpCached, keyCached := prog.cached()
	return &domain.EvaluationResponse{
		EvaluationResult: *result,
		Metadata: domain.EvaluationMetadata{
			TestID:                 req.TestID,
			EvaluationTimestamp:    p.deps.Now().UTC(),
			QuestionPaperURL:       req.QuestionPaper.URL,
			AnswerKeyURL:           answerKeyURL(req.AnswerKey),
			StudentAnswerURL:       req.StudentAnswer.URL,
			StudentAnswerZipURL:    req.StudentAnswer.ZipURL,
			IsOcrProcessed:         true,
			EvaluationMethod:       method,
			ExtractedQuestionCount: len(questions.Value),
			HasAnswerKey:           answerKeyText != "",
			RetryAttempt:           req.RetryAttempt,
			QuestionPaperCached:    qpCached,
			AnswerKeyCached:        keyCached,
		},
		QuestionPaperText: questionText,
		AnswerKeyText:     answerKeyText,
		Text:              studentText,
		SemanticMatches:   matches.Value,
		IsOcrProcessed:    true,
	}, nil
}

func (p *progress) cached() (bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.questionPaperCached, p.answerKeyCached
}

func answerKeyURL(doc *domain.DocumentRef) string {
	if doc == nil {
		return ""
	}
	return doc.URL
}

func (p *Pipeline) saveText(ctx context.Context, url, text string, log *zap.Logger) {
	if p.deps.Store == nil || url == "" || text == "" {
		return
	}
	if err := p.deps.Store.Save(ctx, url, text); err != nil {
		log.Warn("storing OCR text failed", zap.String("url", url), zap.Error(err))
	}
}

func (p *Pipeline) archive(ctx context.Context, testID string, resp *domain.EvaluationResponse, log *zap.Logger) {
	if p.deps.Archive == nil {
		return
	}
	body, err := json.Marshal(resp)
	if err != nil {
		log.Warn("encoding evaluation for archive failed", zap.Error(err))
		return
	}
	key := fmt.Sprintf("%s/%s/%s.json", archivePrefix, testID, uuid.New().String())
	out, err := p.deps.Archive.Upload(ctx, port.UploadInput{
		Bucket:      p.deps.ArchiveBucket,
		Key:         key,
		Body:        bytes.NewReader(body),
		ContentType: "application/json",
	})
	if err != nil {
		log.Warn("archiving evaluation failed", zap.String("key", key), zap.Error(err))
		return
	}
	log.Info("evaluation archived", zap.String("location", out.Location))
}

func (p *Pipeline) timeoutError(req *domain.EvaluationRequest, prog *progress) error {
	pe := domain.NewPipelineError(domain.ErrTimeout,
		fmt.Sprintf("Evaluation timed out after %s", p.deps.Timeout), context.DeadlineExceeded).
		WithHelp("The documents took too long to process. Try again with fewer or smaller pages.")
	if req.RetryAttempt > 0 {
		pe.WithDetails(prog.details(req))
	}
	return pe
}

func (p *Pipeline) processingError(req *domain.EvaluationRequest, prog *progress, err error) error {
	var pe *domain.PipelineError
	if errors.As(err, &pe) {
		return pe
	}

	var upErr *llm.UpstreamError
	kind, msg, help := domain.ErrDocumentAccess, "Failed to process documents", "Verify that every document URL is publicly accessible and is an image or a converted PDF."
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		kind, msg, help = domain.ErrInvalidInput, "Invalid document reference", ""
	case errors.Is(err, domain.ErrConfiguration):
		kind, msg, help = domain.ErrConfiguration, "Model credentials are not configured", ""
	case errors.As(err, &upErr):
		kind, msg, help = domain.ErrConnectivity, "The model endpoint returned an error", "Retry the request later. Rate limits are not retried automatically."
	case errors.Is(err, domain.ErrParse):
		kind, msg, help = domain.ErrParse, "Failed to parse the evaluation result", "The model returned an unexpected format. Retry the request."
	}

	pe = domain.NewPipelineError(kind, msg, err)
	if help != "" {
		pe.WithHelp(help)
	}
	if req.RetryAttempt > 0 {
		pe.WithDetails(prog.details(req))
	}
	return pe
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrConfiguration):
		return "configuration"
	case errors.Is(err, domain.ErrConnectivity):
		return "connectivity"
	case errors.Is(err, domain.ErrParse):
		return "parse"
	case errors.Is(err, domain.ErrDocumentAccess):
		return "document_access"
	default:
		return "error"
	}
}
