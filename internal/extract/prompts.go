package extract

import "fmt"

// Role selects the transcription prompt for a document.
type Role string

const (
	RoleAnswerSheet   Role = "answer_sheet"
	RoleQuestionPaper Role = "question_paper"
	RoleAnswerKey     Role = "answer_key"
)

const transcriptionRules = `RULES:
- Transcribe the text verbatim. Do not summarize, correct, or answer anything.
- Preserve the original question numbering and sub-parts exactly as written (e.g. 1, 2(a), Q3.ii).
- Keep each question or answer on its own lines, in the order it appears.
- Where handwriting is unclear, write your best reading followed by [?].
- Describe diagrams, tables or equations briefly in square brackets.
- Return plain text only, with no commentary before or after.`

// SystemPrompt returns the role-specific system prompt for OCR.
func (r Role) SystemPrompt() string {
	switch r {
	case RoleAnswerSheet:
		return `You are an expert at reading handwritten student answer sheets for teachers.

` + transcriptionRules
	case RoleQuestionPaper:
		return `You are an expert at transcribing printed and handwritten examination question papers.
Include the marks allotted to each question when they are shown.

` + transcriptionRules
	case RoleAnswerKey:
		return `You are an expert at transcribing examination answer keys and marking schemes.
Keep every answer next to its question number and keep any marking notes.

` + transcriptionRules
	default:
		return transcriptionRules
	}
}

// UserPrompt returns the instruction sent with the images.
func (r Role) UserPrompt() string {
	switch r {
	case RoleAnswerSheet:
		return "Extract all text from this student's answer sheet, keeping the question numbers the student wrote."
	case RoleQuestionPaper:
		return "Extract all questions from this question paper with their numbers and marks."
	case RoleAnswerKey:
		return "Extract all answers from this answer key with their question numbers."
	default:
		return "Extract all text from these images."
	}
}

// BuildQuestionExtractionPrompt asks for the questions of a paper as a strict JSON object.
func BuildQuestionExtractionPrompt(questionPaperText string) string {
	return `Analyze the following question paper and extract every question into the JSON structure below.

IMPORTANT INSTRUCTIONS:
- Include every question and sub-question. Use the numbering exactly as printed.
- "marks" must be a number. Use 0 when the paper does not state the marks.
- "difficulty" is one of "easy", "medium", "hard" when you can judge it, otherwise omit it.

Return ONLY valid JSON with no markdown formatting, no code fences, no explanation.

{
  "questions": [
    {"questionNumber": "1", "questionText": "", "marks": 0, "topic": "", "difficulty": ""}
  ]
}

QUESTION PAPER:
` + questionPaperText
}

// BuildSemanticMatchPrompt asks the model to pair each question with the student's answer to it.
func BuildSemanticMatchPrompt(questionPaperText, studentAnswerText string) string {
	return fmt.Sprintf(`Match each question in the question paper to the part of the student's answer sheet that answers it.
Students may answer out of order or omit numbering, so match by meaning.

Return ONLY a JSON array with no markdown formatting:
[{"question": "<question text>", "answer": "<student answer text>", "similarityScore": 0.0}]

similarityScore is between 0 and 1. Omit questions the student did not answer.

QUESTION PAPER:
%s

STUDENT ANSWER SHEET:
%s`, questionPaperText, studentAnswerText)
}
