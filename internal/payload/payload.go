package payload

import (
	"encoding/json"
	"fmt"
)

// Kind tags the active LaunchContext variant.
type Kind string

const (
	KindFiles  Kind = "files"
	KindImages Kind = "images"
)

// LaunchContext is the closed set of things a launch can ask perch to act on.
// Implemented only by Files and Images.
type LaunchContext interface {
	Kind() Kind
	// Paths returns a copy of the path list.
	Paths() []string
	isLaunchContext()
}

// Files is a launch over documents whose text should be extracted.
type Files struct {
	Files []string
}

func (Files) Kind() Kind        { return KindFiles }
func (f Files) Paths() []string { return append([]string(nil), f.Files...) }
func (Files) isLaunchContext()  {}

// Images is a launch over image files.
type Images struct {
	Images []string
}

func (Images) Kind() Kind        { return KindImages }
func (i Images) Paths() []string { return append([]string(nil), i.Images...) }
func (Images) isLaunchContext()  {}

// Coords is a screen-position hint for window placement.
type Coords struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// LaunchPayload describes what to act on plus an optional placement hint.
// Treat it as immutable; hand each consumer its own Clone.
type LaunchPayload struct {
	Context LaunchContext
	Coords  *Coords
}

// Clone returns a deep copy of p.
func (p *LaunchPayload) Clone() *LaunchPayload {
	if p == nil {
		return nil
	}
	out := &LaunchPayload{}
	switch c := p.Context.(type) {
	case Files:
		out.Context = Files{Files: c.Paths()}
	case Images:
		out.Context = Images{Images: c.Paths()}
	}
	if p.Coords != nil {
		coords := *p.Coords
		out.Coords = &coords
	}
	return out
}

// FromPaths builds a payload directly from plain path arguments.
func FromPaths(kind Kind, paths []string) (*LaunchPayload, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no paths given")
	}
	cp := append([]string(nil), paths...)
	switch kind {
	case KindFiles:
		return &LaunchPayload{Context: Files{Files: cp}}, nil
	case KindImages:
		return &LaunchPayload{Context: Images{Images: cp}}, nil
	default:
		return nil, fmt.Errorf("unknown payload kind %q", kind)
	}
}

// wirePayload is the flattened JSON shape:
// {"kind":"files","files":[...],"coords":{"x":0,"y":0}}.
type wirePayload struct {
	Kind   Kind      `json:"kind"`
	Files  *[]string `json:"files,omitempty"`
	Images *[]string `json:"images,omitempty"`
	Coords *Coords   `json:"coords,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (p LaunchPayload) MarshalJSON() ([]byte, error) {
	w := wirePayload{Coords: p.Coords}
	switch c := p.Context.(type) {
	case Files:
		files := nonNil(c.Files)
		w.Kind, w.Files = KindFiles, &files
	case Images:
		images := nonNil(c.Images)
		w.Kind, w.Images = KindImages, &images
	default:
		return nil, fmt.Errorf("launch payload has no context")
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. The kind tag is required and must
// match the list that is present.
func (p *LaunchPayload) UnmarshalJSON(data []byte) error {
	var w wirePayload
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	switch w.Kind {
	case KindFiles:
		if w.Files == nil {
			return fmt.Errorf("missing field `files` for kind %q", w.Kind)
		}
		p.Context = Files{Files: nonNil(*w.Files)}
	case KindImages:
		if w.Images == nil {
			return fmt.Errorf("missing field `images` for kind %q", w.Kind)
		}
		p.Context = Images{Images: nonNil(*w.Images)}
	case "":
		return fmt.Errorf("missing field `kind`")
	default:
		return fmt.Errorf("unknown variant %q, expected `files` or `images`", w.Kind)
	}
	p.Coords = w.Coords
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
