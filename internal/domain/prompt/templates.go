package prompt

// SummaryTemplate produces the structured analytical summary of a paper.
const SummaryTemplate = `Act as an academic researcher. Analyze the following document.

CONTEXT:
- Topic: {{.topic}}
- Project: {{.project}}

DOCUMENT CONTENT:
{{.doc_text}}

TASK:
1. Start with an ABNT2 citation of the document.
2. Summarize the Problem, Methodology, and Results under those three headings.
3. Explicitly explain how this paper helps the specific Project mentioned above.
`

// DiscussionTemplate rewrites a summary as a Discussion section. It only sees the summary.
const DiscussionTemplate = `Act as an expert editor. Rewrite this summary into a single formal academic
'Discussion' section paragraph written in {{.language}}. Use only the information in the summary.
Return prose only, without headings, lists or placeholders.

INPUT SUMMARY:
{{.summary}}
`
