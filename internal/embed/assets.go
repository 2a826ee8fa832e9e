// Package embed carries the files compiled into the repairdesk binary
package embed

import (
	"embed"
	"fmt"
)

//go:embed schema/report.cue templates/sign.html.tmpl
var assetsFS embed.FS

// ReportSchema returns the CUE schema for intervention reports
func ReportSchema() []byte {
	return mustRead("schema/report.cue")
}

// SignPageTemplate returns the html/template source of the signing page
func SignPageTemplate() string {
	return string(mustRead("templates/sign.html.tmpl"))
}

func mustRead(name string) []byte {
	data, err := assetsFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("embedded asset %s: %v", name, err))
	}
	return data
}
