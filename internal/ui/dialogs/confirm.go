package dialogs

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// ConfirmDialog shows a modal with a message and Yes/No buttons. No has
// focus initially. Escape and n cancel; y confirms.
func ConfirmDialog(message string, onConfirm func(), onCancel func()) *tview.Modal {
	modal := tview.NewModal().
		SetText(message).
		AddButtons([]string{"Yes", "No"}).
		SetFocus(1).
		SetDoneFunc(func(_ int, label string) {
			if label == "Yes" {
				onConfirm()
			} else {
				onCancel()
			}
		})
	modal.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Key() == tcell.KeyEscape, event.Rune() == 'n':
			onCancel()
			return nil
		case event.Rune() == 'y':
			onConfirm()
			return nil
		}
		return event
	})
	return modal
}
