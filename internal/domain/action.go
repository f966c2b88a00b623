package domain

import "fmt"

// Action is a user-facing operation the UI can wire to a button or hotkey
type Action string

const (
	ActionEnterEdit       Action = "enter-edit-mode"
	ActionLeaveEdit       Action = "leave-edit-mode"
	ActionMarkCorrect     Action = "mark-correct"
	ActionAccept          Action = "accept"
	ActionAddBox          Action = "add-box"
	ActionDeleteSelected  Action = "delete-selected-box"
	ActionStretchSelected Action = "stretch-selected-edge"
	ActionDiscardEdits    Action = "discard-edits"
	ActionImportJSON      Action = "import-json"
	ActionExportJSON      Action = "export-json"
	ActionExportTraining  Action = "export-training"
)

// Actions lists every action in a stable order
var Actions = []Action{
	ActionEnterEdit,
	ActionLeaveEdit,
	ActionMarkCorrect,
	ActionAccept,
	ActionAddBox,
	ActionDeleteSelected,
	ActionStretchSelected,
	ActionDiscardEdits,
	ActionImportJSON,
	ActionExportJSON,
	ActionExportTraining,
}

// ParseAction validates an action name
func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", s)
}
