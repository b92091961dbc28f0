package evaluator

import (
	"fmt"
	"strings"

	"assesslab/internal/domain"
)

const outputContract = `Return ONLY valid JSON with no markdown formatting, no code fences, no explanation, in exactly this structure:
{
  "student_name": "",
  "roll_no": "",
  "class": "",
  "subject": "",
  "answers": [
    {
      "question_no": "1",
      "question": "",
      "answer": "<the student's answer>",
      "expected_answer": "",
      "score": [<marks awarded>, <maximum marks>],
      "remarks": "",
      "confidence": 0.0,
      "match_method": "%s"
    }
  ],
  "summary": {
    "total_score": [<sum awarded>, <sum maximum>],
    "percentage": 0
  }
}

SCORING RULES:
- Marks awarded must be between 0 and the maximum marks for that question.
- Award partial credit for partially correct answers and explain it in "remarks".
- "confidence" is between 0 and 1 and reflects how sure you are of the reading and the grade.
- Include every question, with an empty answer and 0 marks when the student did not attempt it.`

const systemPrompt = `You are an experienced teacher grading a student's examination answers fairly and consistently.
You grade only what the student wrote. You never invent answers the student did not give.`

func studentBlock(info domain.StudentInfo) string {
	var b strings.Builder
	b.WriteString("STUDENT:\n")
	fmt.Fprintf(&b, "Name: %s\nRoll number: %s\nClass: %s\nSubject: %s\n",
		orUnknown(info.Name), orUnknown(info.RollNumber), orUnknown(info.Class), orUnknown(info.Subject))
	return b.String()
}

func answerKeyBlock(answerKeyText string) string {
	if strings.TrimSpace(answerKeyText) == "" {
		return "ANSWER KEY:\nNo answer key was provided. Grade using your own subject knowledge and state the expected answer you used in \"expected_answer\".\n"
	}
	return "ANSWER KEY:\n" + answerKeyText + "\n"
}

// BuildStructuredPrompt grades against an explicit list of extracted questions.
func BuildStructuredPrompt(in Input) string {
	var qs strings.Builder
	for i, q := range in.Questions {
		fmt.Fprintf(&qs, "%d. [Q%s] %s (marks: %g)", i+1, q.QuestionNumber, strings.TrimSpace(q.QuestionText), float64(q.Marks))
		if q.Topic != "" {
			fmt.Fprintf(&qs, " [topic: %s]", q.Topic)
		}
		qs.WriteString("\n")
	}

	return "Evaluate the student's answers against the questions listed below. Match each answer to its question " +
		"using the student's numbering first and the content of the answer second. Use the listed marks as the maximum marks.\n\n" +
		studentBlock(in.StudentInfo) + "\n" +
		"QUESTIONS:\n" + qs.String() + "\n" +
		answerKeyBlock(in.AnswerKeyText) + "\n" +
		"STUDENT ANSWER SHEET:\n" + in.StudentAnswerText + "\n\n" +
		fmt.Sprintf(outputContract, domain.MatchExtractedQuestion)
}

// BuildRawTextPrompt lets the model segment the question paper itself.
func BuildRawTextPrompt(in Input, method domain.MatchMethod) string {
	var hints string
	if len(in.Matches) > 0 {
		var b strings.Builder
		b.WriteString("SUGGESTED QUESTION/ANSWER PAIRS (may be incomplete):\n")
		for _, m := range in.Matches {
			fmt.Fprintf(&b, "- Q: %s\n  A: %s (similarity %.2f)\n", m.Question, m.Answer, m.SimilarityScore)
		}
		hints = b.String() + "\n"
	}

	return "Evaluate the student's answers. First identify every question in the question paper with its number and " +
		"maximum marks, then find the student's answer to each one.\n\n" +
		studentBlock(in.StudentInfo) + "\n" +
		"QUESTION PAPER:\n" + in.QuestionPaperText + "\n\n" +
		answerKeyBlock(in.AnswerKeyText) + "\n" +
		hints +
		"STUDENT ANSWER SHEET:\n" + in.StudentAnswerText + "\n\n" +
		fmt.Sprintf(outputContract, method)
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
