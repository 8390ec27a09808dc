package collections

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/njoerd114/watchsync/internal/model"
	"github.com/njoerd114/watchsync/internal/sync"
)

var (
	// ErrListNotFound is returned when a list id or name matches nothing.
	ErrListNotFound = errors.New("list not found")
	// ErrEmptyListName is returned when creating or renaming to a blank name.
	ErrEmptyListName = errors.New("list name must not be empty")
)

// ListSpec describes custom lists to the engine. Lists are keyed by their
// generated id, so two lists may share a name.
func ListSpec() sync.Spec[model.CustomList] {
	return sync.Spec[model.CustomList]{
		Name: Lists,
		Key:  func(l model.CustomList) string { return l.ID },
		Stamp: func(l *model.CustomList, now time.Time) {
			if l.CreatedAt.IsZero() {
				l.CreatedAt = now
			}
		},
		Recency: func(l model.CustomList) time.Time { return l.CreatedAt },
		Clone:   model.CustomList.Clone,
		Hash:    model.CustomList.ContentHash,
		Label: func(l model.CustomList) string {
			return fmt.Sprintf("%s (%d entries)", l.Name, len(l.Entries))
		},
	}
}

// CustomLists manages the user's named lists. Entry changes replace the
// whole list remotely. When that cannot happen the change stays on the
// device and is pushed by the next load.
type CustomLists struct {
	*sync.Engine[model.CustomList]
	newID func() string
}

func newCustomLists(e *sync.Engine[model.CustomList]) *CustomLists {
	return &CustomLists{Engine: e, newID: uuid.NewString}
}

// CreateList adds a new empty list with a generated id.
func (c *CustomLists) CreateList(ctx context.Context, name, description string) (model.CustomList, sync.Result) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.CustomList{}, sync.Result{LocalErr: ErrEmptyListName}
	}
	l := model.CustomList{
		ID:          c.newID(),
		Name:        name,
		Description: strings.TrimSpace(description),
		Entries:     []model.Item{},
	}
	res := c.Add(ctx, l)
	if created, ok := c.Get(l.ID); ok {
		l = created
	}
	return l, res
}

// DeleteList removes the list with id.
func (c *CustomLists) DeleteList(ctx context.Context, id string) sync.Result {
	if !c.IsMember(id) {
		return sync.Result{LocalErr: fmt.Errorf("%w: %s", ErrListNotFound, id)}
	}
	return c.Remove(ctx, id)
}

// RenameList changes a list's name and description.
func (c *CustomLists) RenameList(ctx context.Context, id, name, description string) sync.Result {
	name = strings.TrimSpace(name)
	if name == "" {
		return sync.Result{LocalErr: ErrEmptyListName}
	}
	if !c.IsMember(id) {
		return sync.Result{LocalErr: fmt.Errorf("%w: %s", ErrListNotFound, id)}
	}
	description = strings.TrimSpace(description)
	return c.Update(ctx, id, func(l *model.CustomList) bool {
		if l.Name == name && l.Description == description {
			return false
		}
		l.Name = name
		l.Description = description
		return true
	})
}

// AddEntry appends item to the list unless an entry with the same key is
// already there.
func (c *CustomLists) AddEntry(ctx context.Context, listID string, item model.Item) sync.Result {
	if !c.IsMember(listID) {
		return sync.Result{LocalErr: fmt.Errorf("%w: %s", ErrListNotFound, listID)}
	}
	return c.Update(ctx, listID, func(l *model.CustomList) bool {
		if l.HasEntry(item.Key()) {
			return false
		}
		item.AddedAt = time.Now().UTC()
		l.Entries = append(l.Entries, item)
		return true
	})
}

// RemoveEntry drops the entry with key k from the list.
func (c *CustomLists) RemoveEntry(ctx context.Context, listID string, k model.Key) sync.Result {
	if !c.IsMember(listID) {
		return sync.Result{LocalErr: fmt.Errorf("%w: %s", ErrListNotFound, listID)}
	}
	return c.Update(ctx, listID, func(l *model.CustomList) bool {
		n := len(l.Entries)
		l.Entries = slices.DeleteFunc(l.Entries, func(e model.Item) bool { return e.Key() == k })
		return len(l.Entries) != n
	})
}

// Lookup finds a list by id or, failing that, by case-insensitive name.
func (c *CustomLists) Lookup(ref string) (model.CustomList, error) {
	if l, ok := c.Get(ref); ok {
		return l, nil
	}
	var match []model.CustomList
	for _, l := range c.Items() {
		if strings.EqualFold(l.Name, ref) {
			match = append(match, l)
		}
	}
	switch len(match) {
	case 0:
		return model.CustomList{}, fmt.Errorf("%w: %s", ErrListNotFound, ref)
	case 1:
		return match[0], nil
	default:
		return model.CustomList{}, fmt.Errorf("%d lists are named %q, use the id", len(match), ref)
	}
}
