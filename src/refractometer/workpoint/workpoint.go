// Package workpoint holds the instrument presets an operator chooses from.
// The acquisition core never interprets them.
package workpoint

import (
	"fmt"
)

var Defaults = []string{
	"Work point #1",
	"Work point #2",
	"Work point #3",
}

// Selector is the list of presets and the one currently selected.
type Selector struct {
	names    []string
	selected int
}

func NewSelector(names []string) (*Selector, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one work point is required")
	}
	return &Selector{names: append([]string(nil), names...)}, nil
}

func (s *Selector) List() []string {
	return append([]string(nil), s.names...)
}

func (s *Selector) Selected() string {
	return s.names[s.selected]
}

func (s *Selector) Index() int {
	return s.selected
}

// Next selects the following preset, wrapping around.
func (s *Selector) Next() string {
	s.selected = (s.selected + 1) % len(s.names)
	return s.Selected()
}

// Select picks the preset called name.
func (s *Selector) Select(name string) error {
	i, err := s.indexOf(name)
	if err != nil {
		return err
	}
	s.selected = i
	return nil
}

// Check fails like Select would, without changing the selection.
func (s *Selector) Check(name string) error {
	_, err := s.indexOf(name)
	return err
}

func (s *Selector) indexOf(name string) (int, error) {
	for i, candidate := range s.names {
		if candidate == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown work point %q", name)
}
