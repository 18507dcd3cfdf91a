package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type object struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Kind     string     `json:"kind"`
	Position [3]float64 `json:"position"`
}

var defaultObjects = []object{
	{Name: "Cube", Kind: "mesh"},
	{Name: "Light", Kind: "light", Position: [3]float64{4, 5, 1}},
	{Name: "Camera", Kind: "camera", Position: [3]float64{7, -7, 5}},
}

var errObjectNotFound = errors.New("object not found")

// store holds the scene objects in insertion order. When path is set every change is
// written back to it.
type store struct {
	path string

	mu       sync.Mutex
	objects  []object
	baseline string
}

func newStore(path string) (*store, error) {
	s := &store{path: path}

	objects, err := s.load()
	if err != nil {
		return nil, err
	}
	if objects == nil {
		objects = make([]object, len(defaultObjects))
		copy(objects, defaultObjects)
		for i := range objects {
			objects[i].ID = uuid.New().String()
		}
	}
	s.objects = objects
	s.baseline = render(objects)

	return s, nil
}

func (s *store) load() ([]object, error) {
	if s.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read file %s: %w", s.path, err)
	}

	var objects []object
	if err := json.Unmarshal(data, &objects); err != nil {
		return nil, fmt.Errorf("failed to unmarshal file %s: %w", s.path, err)
	}
	return objects, nil
}

// save must be called with s.mu held.
func (s *store) save() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.objects, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal scene: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write file %s: %w", s.path, err)
	}
	return nil
}

func (s *store) list() []object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.objects)
}

func (s *store) move(name string, pos [3]float64) (object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(name)
	if i < 0 {
		return object{}, fmt.Errorf("%w: %s", errObjectNotFound, name)
	}
	s.objects[i].Position = pos
	return s.objects[i], s.save()
}

func (s *store) spawn(name, kind string, pos [3]float64) (object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index(name) >= 0 {
		return object{}, fmt.Errorf("object %s already exists", name)
	}
	obj := object{ID: uuid.New().String(), Name: name, Kind: kind, Position: pos}
	s.objects = append(s.objects, obj)
	return obj, s.save()
}

func (s *store) remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", errObjectNotFound, name)
	}
	s.objects = slices.Delete(s.objects, i, i+1)
	return s.save()
}

// snapshot returns the scene as loaded and as it is now, both rendered as text.
func (s *store) snapshot() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseline, render(s.objects)
}

func (s *store) index(name string) int {
	return slices.IndexFunc(s.objects, func(o object) bool { return o.Name == name })
}

func render(objects []object) string {
	var b strings.Builder
	for _, o := range objects {
		fmt.Fprintf(&b, "%s %s at %s\n", o.Kind, o.Name, formatPosition(o.Position))
	}
	return b.String()
}

func formatPosition(p [3]float64) string {
	parts := make([]string, len(p))
	for i, v := range p {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
