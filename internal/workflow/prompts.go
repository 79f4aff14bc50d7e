package workflow

const formatRule = "IMPORTANT: Structure your feedback using the following format. Use bold headings, do NOT use bullet points or lists.\n\n"

// SupervisorPrompt takes the document.
const SupervisorPrompt = "You are the supervisor. Please review the following document and provide your feedback.\n\n" +
	formatRule +
	"**Overall Impression:**\n" +
	"[Your general impression of the document.]\n\n" +
	"**Specific Feedback:**\n" +
	"[Provide specific points of feedback here.]\n\n" +
	"--- DOCUMENT FOR REVIEW ---\n" +
	"%s"

// ReviewerPrompt takes the persona instruction and the document.
const ReviewerPrompt = "%s\n\n" +
	"Please review the following document and provide your feedback.\n\n" +
	formatRule +
	"**Key Strengths:**\n" +
	"[Summarize the positive aspects and strengths of the document here.]\n\n" +
	"**Areas for Improvement:**\n" +
	"[Summarize the constructive criticism and areas that need improvement here.]\n\n" +
	"--- DOCUMENT FOR REVIEW ---\n" +
	"%s"

// AggregatorPrompt takes the supervisor feedback and the combined reviews.
const AggregatorPrompt = "You are the aggregator. Compile a single, final feedback report by synthesizing the key points from the supervisor's feedback and the individual reviews provided below.\n\n" +
	"IMPORTANT: Structure your report using the following format. Use bold headings, do NOT use bullet points or lists.\n\n" +
	"**Key Strengths:**\n" +
	"[Summarize the positive aspects and strengths of the document here.]\n\n" +
	"**Areas for Improvement:**\n" +
	"[Summarize the constructive criticism and areas that need improvement here.]\n\n" +
	"**Final Recommendation:**\n" +
	"[Provide a final recommendation, e.g., 'Approved', 'Approved with minor revisions', 'Requires major revisions'.]\n\n" +
	"--- FEEDBACK TO PROCESS ---\n" +
	"Supervisor's Feedback:\n%s\n\n" +
	"Individual Reviews:\n%s"
