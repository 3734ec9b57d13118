package evaluation

import (
	"bytes"
	"fmt"
	"html/template"
	"path"
)

const reportDir = "reports"

// reportTemplate renders the interview report as a standalone HTML page.
// Snapshot and audio refs are storage-relative; the serving layer mounts
// the artifact root.
var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Interview Report {{.Eval.InterviewID}}</title>
<style>
body { font-family: sans-serif; max-width: 60em; margin: 2em auto; color: #222; }
h1, h2 { border-bottom: 1px solid #ddd; padding-bottom: .2em; }
.scores td { padding: .3em 1em .3em 0; }
.turn { margin: .6em 0; }
.turn .role { font-weight: bold; text-transform: capitalize; }
.warning img { max-width: 160px; margin-right: .5em; }
.penalty { color: #a33; }
</style>
</head>
<body>
<h1>Interview Report</h1>
<p>Interview {{.Eval.InterviewID}} &middot; session {{.Eval.SessionID}} &middot; {{.Eval.CreatedAt.Format "2006-01-02 15:04 MST"}}</p>

<h2>Scores</h2>
<table class="scores">
<tr><td>Overall</td><td><strong>{{printf "%.1f" .Eval.OverallScore}} / 10</strong></td></tr>
<tr><td>Technical</td><td>{{printf "%.1f" .Eval.Dimensions.Technical}}</td></tr>
<tr><td>Communication</td><td>{{printf "%.1f" .Eval.Dimensions.Communication}}</td></tr>
<tr><td>Problem solving</td><td>{{printf "%.1f" .Eval.Dimensions.ProblemSolving}}</td></tr>
{{if ge .Eval.CodingScore 0}}<tr><td>Coding</td><td>{{.Eval.CodingScore}} / 100</td></tr>{{end}}
<tr><td>Proctoring penalty</td><td class="penalty">-{{printf "%.1f" .Eval.Penalty}} ({{.Eval.WarningCount}} warnings)</td></tr>
</table>

<h2>Summary</h2>
<p>{{.Eval.Summary}}</p>

<h2>Transcript</h2>
{{range .Input.Session.Turns}}
<div class="turn"><span class="role">{{.Role}}</span> (#{{.Sequence}}): {{.Text}}</div>
{{end}}

{{if .Input.Coding}}
<h2>Coding Round</h2>
<p>Language: {{.Input.Coding.Language}} &middot; passed {{.PassedCases}}/{{len .Input.Coding.Cases}} test cases &middot; review score {{printf "%.0f" .Input.Coding.Review.Score}}</p>
<p>{{.Input.Coding.Review.Feedback}}</p>
{{end}}

{{if .Input.Warnings}}
<h2>Proctoring Warnings</h2>
{{range .Input.Warnings}}
<div class="warning">
<p>{{.Kind}} at {{.At.Format "15:04:05"}}</p>
{{if .SnapshotRef}}<img src="/artifacts/{{.SnapshotRef}}" alt="{{.Kind}}">{{end}}
</div>
{{end}}
{{end}}
</body>
</html>
`))

type reportData struct {
	Eval        Evaluation
	Input       Input
	PassedCases int
}

// writeReport renders and stores the HTML report, returning its ref.
func (a *Assembler) writeReport(in Input, ev Evaluation) (string, error) {
	data := reportData{Eval: ev, Input: in}
	if in.Coding != nil {
		for _, c := range in.Coding.Cases {
			if c.Passed {
				data.PassedCases++
			}
		}
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("evaluation: render report: %w", err)
	}

	ref := path.Join(reportDir, ev.InterviewID.String()+".html")
	// Remove any previous render; assembly is idempotent.
	_ = a.artifacts.Remove(ref)
	if _, err := a.artifacts.Write(ref, buf.Bytes()); err != nil {
		return "", fmt.Errorf("evaluation: store report: %w", err)
	}
	return ref, nil
}
