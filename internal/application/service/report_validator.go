package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
	"github.com/YoshitsuguKoike/repairdesk/internal/embed"
)

// ReportValidator checks a report against the embedded CUE #Report schema.
// It is the caller-side check that runs before a token is issued.
type ReportValidator struct {
	mu     sync.Mutex // cue.Context is not safe for concurrent use
	ctx    *cue.Context
	schema cue.Value
}

// NewReportValidator compiles the embedded schema
func NewReportValidator() (*ReportValidator, error) {
	return NewReportValidatorFromSource(embed.ReportSchema())
}

// NewReportValidatorFromSource compiles a schema that defines #Report
func NewReportValidatorFromSource(src []byte) (*ReportValidator, error) {
	cctx := cuecontext.New()
	v := cctx.CompileBytes(src, cue.Filename("report.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile report schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#Report"))
	if !def.Exists() {
		return nil, fmt.Errorf("compile report schema: #Report is not defined")
	}
	return &ReportValidator{ctx: cctx, schema: def}, nil
}

// Validate returns an ErrInvalidReport naming every offending field, or nil
func (v *ReportValidator) Validate(report intervention.ReportFields) error {
	data, err := json.Marshal(report.Normalized())
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	doc := v.ctx.CompileBytes(data, cue.Filename("report.json"))
	if err := doc.Err(); err != nil {
		return fmt.Errorf("%w: %v", intervention.ErrInvalidReport, err)
	}
	err = v.schema.Unify(doc).Validate(cue.Concrete(true), cue.All())
	if err == nil {
		return nil
	}

	seen := make(map[string]bool)
	var fields []string
	for _, e := range cueerrors.Errors(err) {
		path := strings.Join(e.Path(), ".")
		if path == "" {
			path = "report"
		}
		if !seen[path] {
			seen[path] = true
			fields = append(fields, path)
		}
	}
	sort.Strings(fields)
	return fmt.Errorf("%w: %s", intervention.ErrInvalidReport, strings.Join(fields, ", "))
}
