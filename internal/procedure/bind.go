package procedure

import (
	"fmt"

	"audita/internal/logic"
	"audita/internal/verification"
)

// UnresolvedActionWarning reports an action id named by a procedure
// expression that no action definition provides. The procedure is still
// built; evaluating it later fails with an unbound-name error.
type UnresolvedActionWarning struct {
	ProcedureID string
	ActionID    string
}

func (w UnresolvedActionWarning) Error() string {
	return fmt.Sprintf("procedure %s: expression references undefined action %s", w.ProcedureID, w.ActionID)
}

// Bind builds a definition whose actions are the ids referenced by its
// expression, in first-seen order.
func Bind(def Definition, actions map[string]*verification.Definition) (*Definition, []UnresolvedActionWarning) {
	var warnings []UnresolvedActionWarning
	bound := def
	bound.Actions = nil
	for _, actionID := range logic.Identifiers(def.Expression) {
		action, ok := actions[actionID]
		if !ok {
			warnings = append(warnings, UnresolvedActionWarning{ProcedureID: def.ID, ActionID: actionID})
			continue
		}
		bound.Actions = append(bound.Actions, action)
	}
	return &bound, warnings
}
