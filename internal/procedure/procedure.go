// Package procedure resolves groups of verification actions into findings.
package procedure

import (
	"errors"
	"fmt"

	"audita/internal/logic"
	"audita/internal/verification"
)

// Definition is an immutable audit procedure: a logical expression over the
// results of its actions, naming the finding it materializes.
type Definition struct {
	ID            string
	Description   string
	Expression    string
	FindingNumber string
	FindingName   string
	Actions       []*verification.Definition
}

// FindingLabel renders the "{number}. {name}" label used across reports.
func (d *Definition) FindingLabel() string {
	return FindingLabel(d.FindingNumber, d.FindingName)
}

// FindingLabel renders the "{number}. {name}" label.
func FindingLabel(number, name string) string {
	return fmt.Sprintf("%s. %s", number, name)
}

// Finding is the immutable outcome of a procedure whose expression held.
type Finding struct {
	Number      string                    `json:"number"`
	Name        string                    `json:"name"`
	Situations  []string                  `json:"situations"`
	Evidences   []string                  `json:"evidences"`
	Forwardings []verification.Forwarding `json:"forwardings"`
}

// Label renders the "{number}. {name}" label.
func (f *Finding) Label() string {
	return FindingLabel(f.Number, f.Name)
}

// Result records one execution of a procedure for one entity.
type Result struct {
	ProcedureID   string                 `json:"procedure_id"`
	Description   string                 `json:"description"`
	Expression    string                 `json:"expression"`
	FindingNumber string                 `json:"finding_number"`
	FindingName   string                 `json:"finding_name"`
	Actions       []*verification.Result `json:"actions"`
	Executed      bool                   `json:"executed"`
	Finding       *Finding               `json:"finding,omitempty"`
	Err           string                 `json:"error,omitempty"`

	err error
}

// FindingLabel renders the "{number}. {name}" label of the procedure.
func (r *Result) FindingLabel() string {
	return FindingLabel(r.FindingNumber, r.FindingName)
}

// Failure returns the error that aborted finding determination, if any.
func (r *Result) Failure() error {
	if r.err != nil {
		return r.err
	}
	if r.Err != "" {
		return errors.New(r.Err)
	}
	return nil
}

// Execute runs every action for entityKey in order, evaluates the expression
// and builds the finding when it holds. Action or expression errors abort the
// finding determination for this execution only.
func Execute(def *Definition, entityKey string) *Result {
	res := &Result{
		ProcedureID:   def.ID,
		Description:   def.Description,
		Expression:    def.Expression,
		FindingNumber: def.FindingNumber,
		FindingName:   def.FindingName,
		Actions:       make([]*verification.Result, 0, len(def.Actions)),
	}

	vars := make(map[string]bool, len(def.Actions))
	var errs []error
	for _, action := range def.Actions {
		ar := verification.Execute(action, entityKey)
		res.Actions = append(res.Actions, ar)
		vars[ar.ActionID] = ar.Result
		if err := ar.Failure(); err != nil {
			errs = append(errs, err)
		}
	}
	res.Executed = true

	if len(errs) > 0 {
		res.setErr(fmt.Errorf("procedure %s: %w", def.ID, errors.Join(errs...)))
		return res
	}

	occurred, err := logic.Evaluate(def.Expression, vars)
	if err != nil {
		res.setErr(fmt.Errorf("procedure %s: %w", def.ID, err))
		return res
	}
	if occurred {
		res.Finding = buildFinding(def, res.Actions)
	}
	return res
}

func (r *Result) setErr(err error) {
	r.err = err
	r.Err = err.Error()
}

func buildFinding(def *Definition, actions []*verification.Result) *Finding {
	f := &Finding{
		Number:      def.FindingNumber,
		Name:        def.FindingName,
		Situations:  []string{},
		Evidences:   []string{},
		Forwardings: []verification.Forwarding{},
	}

	seenForwarding := make(map[verification.Forwarding]struct{})
	seenEvidence := make(map[string]struct{})
	seenSituation := make(map[string]struct{})

	for _, a := range actions {
		if !a.Result {
			continue
		}
		if _, ok := seenForwarding[a.Forwarding]; !ok {
			seenForwarding[a.Forwarding] = struct{}{}
			f.Forwardings = append(f.Forwardings, a.Forwarding)
		}
		if _, ok := seenEvidence[a.Evidence]; !ok {
			seenEvidence[a.Evidence] = struct{}{}
			f.Evidences = append(f.Evidences, a.Evidence)
		}
		if a.SituationDescription != "" {
			if _, ok := seenSituation[a.SituationDescription]; !ok {
				seenSituation[a.SituationDescription] = struct{}{}
				f.Situations = append(f.Situations, a.SituationDescription)
			}
		}
	}
	return f
}
