package vlist

import (
	"bytes"
	"html/template"
)

var frameTmpl = template.Must(template.New("vlist").Parse(
	`{{if .Empty}}<div class="vlist-empty{{with .ClassName}} {{.}}{{end}}"><p>{{.EmptyMessage}}</p></div>` +
		`{{else}}<div class="vlist overflow-auto{{with .ClassName}} {{.}}{{end}}" style="height: {{.Height}}px;" data-offset="{{.Offset}}" {{.Attrs}}>` +
		`<div class="vlist-inner" style="height: {{.TotalHeight}}px; position: relative;">` +
		`{{range .Rows}}<div class="vlist-row" data-index="{{.Index}}" style="position: absolute; top: 0; transform: translateY({{.Top}}px); width: 100%; height: {{.Height}}px;">{{.Node}}</div>{{end}}` +
		`</div></div>{{end}}`))

type htmlFrame struct {
	Frame[template.HTML]
	Attrs template.HTMLAttr
}

// HTML renders a frame as a scroll container with absolutely positioned rows.
// attrs is written verbatim on the container and is where callers put their
// scroll wiring (hx-post, hx-trigger and so on). The empty state has no
// scroll container at all.
func HTML(frame Frame[template.HTML], attrs template.HTMLAttr) template.HTML {
	var buf bytes.Buffer
	if err := frameTmpl.Execute(&buf, htmlFrame{Frame: frame, Attrs: attrs}); err != nil {
		// Only a writer error can fail here and bytes.Buffer does not fail.
		return ""
	}
	return template.HTML(buf.String())
}
