// Package control builds the injected "AI Reply" button and its states.
package control

import (
	"context"
	"fmt"
	"strconv"

	"mailreply/internal/dom"
)

const (
	// MarkerClass tags every injected control so stale ones can be found.
	MarkerClass = "ai-reply-button"
	// IDAttr carries the per-instance identifier.
	IDAttr = "data-ai-reply-id"
	// StateAttr mirrors the current State on the element.
	StateAttr = "data-state"

	IdleText = "AI Reply"
	BusyText = "Generating..."

	idleBackground  = "#0b57d0"
	hoverBackground = "#0842a0"
)

// Selector matches every injected control.
const Selector = "." + MarkerClass

// State is the visual state of a control.
type State int

const (
	Idle State = iota
	Busy
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Text is the label shown in state s.
func (s State) Text() string {
	if s == Busy {
		return BusyText
	}
	return IdleText
}

// Enabled reports whether the control accepts clicks in state s.
func (s State) Enabled() bool {
	return s != Busy
}

// InstanceSelector matches the control with the given id.
func InstanceSelector(id string) string {
	return fmt.Sprintf(`%s[%s=%q]`, Selector, IDAttr, id)
}

// Spec returns the markup for a new control in state s.
func Spec(id string, s State) dom.ElementSpec {
	return dom.ElementSpec{
		Tag:     "div",
		Classes: []string{"T-I", "J-J5-Ji", "aoO", "v7", "T-I-atL", "L3", MarkerClass},
		Attrs: map[string]string{
			"role":           "button",
			"data-tooltip":   "Generate AI Reply",
			IDAttr:           id,
			StateAttr:        s.String(),
			dom.DisabledAttr: strconv.FormatBool(!s.Enabled()),
		},
		Style: map[string]string{
			"margin-right":     "8px",
			"background-color": Background(true, false),
			"color":            "#ffffff",
			"border":           "none",
			"border-radius":    "18px",
			"padding":          "0 16px",
			"font-size":        "14px",
			"font-weight":      "500",
			"cursor":           "pointer",
			"display":          "inline-flex",
			"align-items":      "center",
			"justify-content":  "center",
			"height":           "36px",
			"font-family":      "'Google Sans', Roboto, RobotoDraft, Helvetica, Arial, sans-serif",
			"transition":       "background-color 0.15s",
		},
		Hover: map[string]string{
			"background-color": Background(true, true),
		},
		Text: s.Text(),
		Activate: &dom.Activation{
			ID:   id,
			Text: BusyText,
			Attrs: map[string]string{
				StateAttr:        Busy.String(),
				dom.DisabledAttr: "true",
			},
		},
	}
}

// Background is the fill colour for the given pointer state. Hover feedback
// only applies while enabled.
func Background(enabled, hovered bool) string {
	if enabled && hovered {
		return hoverBackground
	}
	return idleBackground
}

// Apply moves el into state s. The fill is reset to the resting colour so
// hover feedback from before a state change does not stick.
func Apply(ctx context.Context, el dom.Element, s State) error {
	if err := el.SetText(ctx, s.Text()); err != nil {
		return fmt.Errorf("set control text: %w", err)
	}
	if err := el.SetAttr(ctx, StateAttr, s.String()); err != nil {
		return fmt.Errorf("set control state: %w", err)
	}
	if err := el.SetAttr(ctx, dom.DisabledAttr, strconv.FormatBool(!s.Enabled())); err != nil {
		return fmt.Errorf("set control disabled: %w", err)
	}
	if err := el.SetStyle(ctx, "background-color", Background(s.Enabled(), false)); err != nil {
		return fmt.Errorf("set control background: %w", err)
	}
	return nil
}
