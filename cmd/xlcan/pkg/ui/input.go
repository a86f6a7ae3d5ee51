// Package ui holds gocui widgets for the full screen monitor.
package ui

import "github.com/jroimartin/gocui"

// Input is a single line editable view with a length limit.
type Input struct {
	Name      string
	Title     string
	X, Y      int
	W         int
	MaxLength int
}

func NewInput(name, title string, x, y, w, maxLength int) *Input {
	return &Input{Name: name, Title: title, X: x, Y: y, W: w, MaxLength: maxLength}
}

func (i *Input) Layout(g *gocui.Gui) error {
	v, err := g.SetView(i.Name, i.X, i.Y, i.X+i.W, i.Y+2)
	if err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = i.Title
		v.Editor = i
		v.Editable = true
	}
	return nil
}

// Edit accepts printable runes up to MaxLength and backspace.
func (i *Input) Edit(v *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) {
	cx, _ := v.Cursor()
	ox, _ := v.Origin()
	limit := ox+cx+1 > i.MaxLength
	switch {
	case ch != 0 && mod == 0 && !limit:
		v.EditWrite(ch)
	case key == gocui.KeyBackspace || key == gocui.KeyBackspace2:
		v.EditDelete(true)
	case key == gocui.KeyArrowLeft:
		v.MoveCursor(-1, 0, false)
	case key == gocui.KeyArrowRight:
		v.MoveCursor(1, 0, false)
	}
}

// Clear empties the view and resets the cursor.
func (i *Input) Clear(g *gocui.Gui) error {
	v, err := g.View(i.Name)
	if err != nil {
		return err
	}
	v.Clear()
	v.SetOrigin(0, 0)
	return v.SetCursor(0, 0)
}
