package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/and161185/juniordebug/internal/errs"
	"github.com/and161185/juniordebug/internal/model"
)

// Analyzer produces corrected code and ordered explanations.
type Analyzer interface {
	Analyze(ctx context.Context, req model.AnalyzeRequest) (*model.AnalyzeResponse, error)
}

// EchoAnalyzer is a deterministic local analyzer: it normalizes whitespace
// and reports each change in line order.
type EchoAnalyzer struct{}

// NewEchoAnalyzer constructs an EchoAnalyzer.
func NewEchoAnalyzer() *EchoAnalyzer { return &EchoAnalyzer{} }

// Analyze validates req and returns the normalized code.
func (EchoAnalyzer) Analyze(ctx context.Context, req model.AnalyzeRequest) (*model.AnalyzeResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, fmt.Errorf("%w: code is empty", errs.ErrValidation)
	}
	if req.TaskDescription == "" {
		return nil, fmt.Errorf("%w: task_description is empty", errs.ErrValidation)
	}
	if !req.Language.Valid() {
		return nil, fmt.Errorf("%w: unsupported language %q", errs.ErrValidation, req.Language)
	}

	lines := strings.Split(strings.ReplaceAll(req.Code, "\r\n", "\n"), "\n")
	var out []model.Explanation
	for i, l := range lines {
		fixed := strings.TrimRight(l, " \t")
		if fixed != l {
			out = append(out, model.Explanation{
				Title:       fmt.Sprintf("Line %d: trailing whitespace", i+1),
				Description: "Removed trailing whitespace.",
			})
		}
		if strings.Contains(fixed, "\t") && req.Language != model.LangGo {
			fixed = strings.ReplaceAll(fixed, "\t", "    ")
			out = append(out, model.Explanation{
				Title:       fmt.Sprintf("Line %d: tabs", i+1),
				Description: "Replaced tabs with four spaces.",
			})
		}
		lines[i] = fixed
	}
	for len(lines) > 1 && lines[len(lines)-1] == "" && lines[len(lines)-2] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(out) == 0 {
		out = append(out, model.Explanation{
			Title:       "No changes",
			Description: fmt.Sprintf("%s: nothing to change in this %s code.", req.TaskDescription, req.Language),
		})
	}
	return &model.AnalyzeResponse{Code: strings.Join(lines, "\n"), Explanations: out}, nil
}
