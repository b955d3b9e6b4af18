package task

import (
	"slices"

	"github.com/zhubert/taskspace/apperr"
	"github.com/zhubert/taskspace/store"
)

// Store is the task collection file. Reads and read-modify-write cycles
// hold the file's advisory lock.
type Store struct {
	path string
}

// NewStore returns a Store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// List returns all tasks in file order.
func (s *Store) List() ([]Task, error) {
	tasks, err := store.View(s.path, []Task{})
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].normalize()
	}
	return tasks, nil
}

// Get returns the task with id.
func (s *Store) Get(id string) (Task, error) {
	tasks, err := s.List()
	if err != nil {
		return Task{}, err
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return Task{}, apperr.NewNotFound("task.get", "task", id)
}

// Update applies fn to the whole collection under the lock.
func (s *Store) Update(fn func(tasks *[]Task) error) error {
	return store.Update(s.path, []Task{}, func(tasks *[]Task) error {
		if err := fn(tasks); err != nil {
			return err
		}
		for i := range *tasks {
			(*tasks)[i].normalize()
		}
		return nil
	})
}

// UpdateTask re-reads the collection, applies fn to the task with id and
// rewrites the file. It returns the task as written.
func (s *Store) UpdateTask(id string, fn func(t *Task) error) (Task, error) {
	var out Task
	err := s.Update(func(tasks *[]Task) error {
		idx := slices.IndexFunc(*tasks, func(t Task) bool { return t.ID == id })
		if idx < 0 {
			return apperr.NewNotFound("task.update", "task", id)
		}
		if err := fn(&(*tasks)[idx]); err != nil {
			return err
		}
		out = (*tasks)[idx].Clone()
		return nil
	})
	return out, err
}
