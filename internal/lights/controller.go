package lights

import (
	"context"
	"fmt"
	"strings"
)

// API is the bridge surface the controller drives.
type API interface {
	Manifest(ctx context.Context) (Manifest, error)
	FindLights(ctx context.Context, name string) ([]Resource, error)
	SetLightState(ctx context.Context, id string, s State) error
	SetGroupState(ctx context.Context, id string, s State) error
	RecallScene(ctx context.Context, groupID, scene string) error
}

// Target types.
const (
	TargetLight = "light"
	TargetRoom  = "room"
	TargetZone  = "zone"
)

// Command asks for a state change on one target, addressed by id or by name.
type Command struct {
	TargetType string
	TargetID   string
	TargetName string
	State      State
}

// Outcome describes what a command actually changed.
type Outcome struct {
	TargetType string
	TargetID   string
	TargetName string
	State      State
}

// Describe renders o as a short confirmation sentence.
func (o Outcome) Describe() string {
	target := o.TargetName
	if target == "" {
		target = o.TargetID
	}
	noun := "light"
	if o.TargetType == TargetRoom || o.TargetType == TargetZone {
		noun = "lights"
	}
	subject := fmt.Sprintf("the %s %s", target, noun)
	if o.TargetType == TargetLight && strings.Contains(strings.ToLower(target), "light") {
		subject = "the " + target
	}

	st := o.State
	var phrase string
	switch {
	case st.On != nil && *st.On:
		phrase = "turned on " + subject
	case st.On != nil:
		phrase = "turned off " + subject
	case st.Brightness != nil:
		phrase = fmt.Sprintf("set %s to %d%% brightness", subject, *st.Brightness)
	case st.Color != "":
		phrase = fmt.Sprintf("changed %s to %s", subject, st.Color)
	default:
		phrase = "updated " + subject
	}
	if st.On != nil && st.Brightness != nil {
		phrase += fmt.Sprintf(" at %d%% brightness", *st.Brightness)
	}
	if st.Color != "" && (st.On != nil || st.Brightness != nil) {
		phrase += " in " + st.Color
	}
	return "I've " + phrase + "."
}

type Controller struct {
	api API
}

func NewController(api API) *Controller {
	return &Controller{api: api}
}

// Apply resolves cmd's target and pushes the state change.
//
// A command with an id goes straight to the bridge. A named command is
// matched against the manifest (rooms, then zones, then individual lights by
// case-insensitive substring); a miss falls back to a live query by name,
// and a second miss is NOT_FOUND.
func (c *Controller) Apply(ctx context.Context, cmd Command) (Outcome, error) {
	target, err := c.resolve(ctx, cmd.TargetType, cmd.TargetID, cmd.TargetName)
	if err != nil {
		return Outcome{}, err
	}

	switch target.TargetType {
	case TargetRoom, TargetZone:
		err = c.api.SetGroupState(ctx, target.TargetID, cmd.State)
	default:
		err = c.api.SetLightState(ctx, target.TargetID, cmd.State)
	}
	if err != nil {
		return Outcome{}, err
	}
	target.State = cmd.State
	return target, nil
}

// Scene recalls a named scene on the room or zone matching group.
func (c *Controller) Scene(ctx context.Context, group, scene string) (Outcome, error) {
	m, err := c.api.Manifest(ctx)
	if err != nil {
		return Outcome{}, err
	}
	target, ok := matchGroup(m, group)
	if !ok {
		return Outcome{}, newError(KindNotFound)
	}
	if err := c.api.RecallScene(ctx, target.TargetID, scene); err != nil {
		return Outcome{}, err
	}
	return target, nil
}

func (c *Controller) resolve(ctx context.Context, typ, id, name string) (Outcome, error) {
	if id != "" {
		if typ == "" {
			typ = TargetLight
		}
		return Outcome{TargetType: typ, TargetID: id, TargetName: name}, nil
	}
	if strings.TrimSpace(name) == "" {
		return Outcome{}, newError(KindNotFound)
	}

	m, err := c.api.Manifest(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if o, ok := matchGroup(m, name); ok {
		return o, nil
	}
	if r, ok := match(m.Lights, name); ok {
		return Outcome{TargetType: TargetLight, TargetID: r.ID, TargetName: r.Name}, nil
	}

	found, err := c.api.FindLights(ctx, name)
	if err != nil {
		return Outcome{}, err
	}
	if len(found) == 0 {
		return Outcome{}, newError(KindNotFound)
	}
	return Outcome{TargetType: TargetLight, TargetID: found[0].ID, TargetName: found[0].Name}, nil
}

func matchGroup(m Manifest, name string) (Outcome, bool) {
	if r, ok := match(m.Rooms, name); ok {
		return Outcome{TargetType: TargetRoom, TargetID: r.ID, TargetName: r.Name}, true
	}
	if r, ok := match(m.Zones, name); ok {
		return Outcome{TargetType: TargetZone, TargetID: r.ID, TargetName: r.Name}, true
	}
	return Outcome{}, false
}

func match(rs []Resource, name string) (Resource, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, r := range rs {
		if strings.Contains(strings.ToLower(r.Name), needle) {
			return r, true
		}
	}
	return Resource{}, false
}
