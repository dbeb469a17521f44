package scorer

import (
	"fmt"
	"strings"

	"github.com/rubrica-app/rubrica/internal/exam"
)

// systemPrompt carries the grading rules. Only the anonymous identifier and
// rubric version describe the exam; nothing identifying is ever included.
const systemPrompt = `You are an impartial exam grader. You grade handwritten exams anonymously by reading the page images provided.

EXAM VERSION: %s
ANONYMOUS EXAM ID: %s

Grading instructions:
- The rubric is provided at the start of the user message.
- Read the handwritten answers directly from the exam page images.
- Grade each question strictly according to the rubric.
- Answers may be written in faint pencil. Examine the image carefully before concluding a question is blank.
- Be fair and consistent. Do not infer the student's identity.

Question consolidation:
- Report each rubric question as a SINGLE entry, even when the rubric splits it into sub-parts (a), (b), (c).
- Use the rubric question identifier only (for example "Q3", never "Q3a").
- Include feedback for all sub-parts in the single feedback string.

Feedback tone:
- Write feedback as a professor would on a graded exam: definitive, concise, specific to the rubric criteria.
- Never hedge, self-correct, or narrate your reasoning. Never write "wait", "actually", "let me re-read" or similar.

Respond ONLY with a JSON object in exactly this shape:
{
  "<question id>": {"points": <number>, "feedback": "<specific feedback>"},
  "overall_feedback": "<2-3 sentence summary>"
}`

// refineSystemPrompt frames the text-only feedback rewrite call.
const refineSystemPrompt = `You rewrite exam feedback. You receive one rubric question, the points awarded, and the grader's original feedback.
Write one or two sentences of specific feedback that names what the answer did or did not satisfy in the rubric criteria.
Do not change the score. Do not hedge or narrate. Reply with the feedback text only.`

func buildSystemPrompt(req Request) string {
	return fmt.Sprintf(systemPrompt, req.Rubric.Version, req.AnonID)
}

// buildContent assembles the user message: rubric text, the answer pages in
// order, then the closing instruction.
func buildContent(req Request) []contentBlock {
	blocks := []contentBlock{
		{Type: "text", Text: "RUBRIC:\n" + req.Rubric.Text()},
		{Type: "text", Text: "--- EXAM ANSWER PAGES ---"},
	}
	for _, p := range req.Pages {
		blocks = append(blocks,
			contentBlock{Type: "image", Source: &imageSource{
				Type:      "base64",
				MediaType: p.MediaType,
				Data:      p.Data,
			}},
			contentBlock{Type: "text", Text: fmt.Sprintf("[Page %d]", p.Number+1)},
		)
	}
	blocks = append(blocks, contentBlock{Type: "text", Text: fmt.Sprintf(
		"Please grade this exam.\n\nEXAM ID: %s\nVERSION: %s\n\nGrade each question strictly according to the rubric above. Respond ONLY with the JSON object specified in the system prompt.",
		req.AnonID, req.Rubric.Version)})
	return blocks
}

// BuildRefinePrompt renders the text-only refinement request for a question.
func BuildRefinePrompt(q exam.Question, score exam.QuestionScore) string {
	var b strings.Builder
	fmt.Fprintf(&b, "QUESTION: %s (max %s points)\n", q.ID, exam.FormatPoints(q.MaxPoints))
	if q.Criteria != "" {
		fmt.Fprintf(&b, "RUBRIC CRITERIA:\n%s\n", q.Criteria)
	}
	fmt.Fprintf(&b, "POINTS AWARDED: %s\n", exam.FormatPoints(score.RawPoints))
	fmt.Fprintf(&b, "ORIGINAL FEEDBACK: %s\n", score.Feedback)
	return b.String()
}
