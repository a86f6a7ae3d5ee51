package cmd

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/jroimartin/gocui"
	"github.com/roffe/xlcan"
	"github.com/roffe/xlcan/cmd/xlcan/pkg/ui"
)

// packets view lines kept before new frames are only counted
const maxBufferedLines = 50000

type tuiMonitor struct {
	bus    *xlcan.Bus
	filter *ui.Input
	lines  atomic.Int64
	frames atomic.Int64
}

func runMonitorTUI(ctx context.Context, b *xlcan.Bus) error {
	m := &tuiMonitor{
		bus:    b,
		filter: ui.NewInput("filter", "Filter", 0, 11, 30, 60),
	}
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return err
	}
	defer g.Close()
	g.Cursor = true
	g.SetManagerFunc(m.layout)
	if err := m.keybindings(g); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go m.frameLoop(ctx, g)
	go m.eventLoop(ctx, g)
	go func() {
		<-ctx.Done()
		g.Update(func(*gocui.Gui) error { return gocui.ErrQuit })
	}()

	if err := g.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

func (m *tuiMonitor) frameLoop(ctx context.Context, g *gocui.Gui) {
	for f := range m.bus.Frames(ctx) {
		m.frames.Add(1)
		if m.lines.Load() > maxBufferedLines {
			continue
		}
		f := f
		g.Update(func(g *gocui.Gui) error {
			packets, err := g.View("packets")
			if err != nil {
				return err
			}
			fmt.Fprintf(packets, "%12.6f %d %s\n", f.Timestamp, f.Channel, f.String())
			m.lines.Add(1)
			return m.updateInfo(g)
		})
	}
}

func (m *tuiMonitor) eventLoop(ctx context.Context, g *gocui.Gui) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-m.bus.Events():
			g.Update(func(g *gocui.Gui) error {
				return m.logError(g, e.String())
			})
		}
	}
}

func (m *tuiMonitor) updateInfo(g *gocui.Gui) error {
	info, err := g.View("info")
	if err != nil {
		return err
	}
	info.Clear()
	st := m.bus.Stats()
	fmt.Fprintf(info, "frames: %d\n", m.frames.Load())
	fmt.Fprintf(info, "in buffer: %d\n", m.lines.Load())
	fmt.Fprintf(info, "filtered: %d\n", st.Filtered)
	fmt.Fprintf(info, "errors: %d\n", st.Errors)
	fmt.Fprintf(info, "offset: %.6f\n", m.bus.TimeOffset())
	return nil
}

func (m *tuiMonitor) logError(g *gocui.Gui, msg string) error {
	v, err := g.View("errors")
	if err != nil {
		return err
	}
	fmt.Fprintln(v, msg)
	return nil
}

func (m *tuiMonitor) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()

	if v, err := g.SetView("info", 0, 0, 30, 10); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Info"
	}

	if err := m.filter.Layout(g); err != nil {
		return err
	}

	if v, err := g.SetView("help", 0, 14, 30, 22); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Wrap = true
		v.Title = "Help"
		fmt.Fprintln(v, "<Q, Ctrl-C> Quit")
		fmt.Fprintln(v, "<Space> Autoscroll")
		fmt.Fprintln(v, "<Ctrl-F> Set filter")
		fmt.Fprintln(v, "<C> Clear frames")
		fmt.Fprintln(v, "filter: id[:mask],...")
	}

	if v, err := g.SetView("errors", 0, 23, 30, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Autoscroll = true
		v.Wrap = true
		v.Title = "Events"
	}

	if v, err := g.SetView("packets", 31, 0, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.SelFgColor = gocui.ColorCyan
		v.Autoscroll = true
		v.Highlight = true
		v.Title = "Frames"
		if _, err := g.SetCurrentView("packets"); err != nil {
			return err
		}
	}
	return nil
}

func (m *tuiMonitor) setFilter(g *gocui.Gui, v *gocui.View) error {
	buff := strings.TrimSpace(v.Buffer())
	var filters []xlcan.Filter
	if buff != "" {
		var err error
		if filters, err = parseFilters(strings.Split(buff, ",")); err != nil {
			return m.logError(g, err.Error())
		}
	}
	if err := m.bus.SetFilters(filters...); err != nil {
		return m.logError(g, err.Error())
	}
	if len(filters) == 0 {
		m.logError(g, "filters cleared")
	} else {
		m.logError(g, fmt.Sprintf("filters set: %s", buff))
	}
	_, err := g.SetCurrentView("packets")
	return err
}

func quit(*gocui.Gui, *gocui.View) error {
	return gocui.ErrQuit
}

func (m *tuiMonitor) keybindings(g *gocui.Gui) error {
	bindings := []struct {
		view    string
		key     interface{}
		handler func(*gocui.Gui, *gocui.View) error
	}{
		{"", gocui.KeyCtrlC, quit},
		{"packets", 'q', quit},
		{"packets", gocui.KeyCtrlF, func(g *gocui.Gui, v *gocui.View) error {
			_, err := g.SetCurrentView("filter")
			return err
		}},
		{"filter", gocui.KeyEnter, m.setFilter},
		{"filter", gocui.KeyEsc, func(g *gocui.Gui, v *gocui.View) error {
			if err := m.filter.Clear(g); err != nil {
				return err
			}
			_, err := g.SetCurrentView("packets")
			return err
		}},
		{"packets", 'c', func(g *gocui.Gui, v *gocui.View) error {
			m.lines.Store(0)
			v.Autoscroll = true
			v.Clear()
			v.SetOrigin(0, 0)
			return nil
		}},
		{"packets", gocui.KeySpace, func(g *gocui.Gui, v *gocui.View) error {
			v.Autoscroll = !v.Autoscroll
			return nil
		}},
		{"packets", gocui.KeyArrowUp, func(g *gocui.Gui, v *gocui.View) error {
			v.Autoscroll = false
			v.MoveCursor(0, -1, false)
			return nil
		}},
		{"packets", gocui.KeyArrowDown, func(g *gocui.Gui, v *gocui.View) error {
			v.MoveCursor(0, 1, false)
			return nil
		}},
		{"packets", gocui.KeyPgup, func(g *gocui.Gui, v *gocui.View) error {
			v.Autoscroll = false
			v.MoveCursor(0, -10, false)
			return nil
		}},
		{"packets", gocui.KeyPgdn, func(g *gocui.Gui, v *gocui.View) error {
			v.MoveCursor(0, 10, false)
			return nil
		}},
	}
	for _, kb := range bindings {
		if err := g.SetKeybinding(kb.view, kb.key, gocui.ModNone, kb.handler); err != nil {
			return err
		}
	}
	return nil
}
