package preview

import (
	"fmt"
	"slices"
)

// Attachment is a file picked for a post together with its local preview.
type Attachment struct {
	Ref     Ref
	Name    string
	Content []byte
}

// Draft collects attachments for a post that has not been submitted yet.
// A Draft is not safe for concurrent use.
type Draft struct {
	store *Store
	items []Attachment
}

// NewDraft returns an empty draft backed by store.
func (s *Store) NewDraft() *Draft {
	return &Draft{store: s}
}

// Add attaches a file. The per-post file limit is enforced here.
func (d *Draft) Add(name string, content []byte) (Ref, error) {
	if len(d.items) >= MaxFiles {
		return Ref{}, ErrTooManyFiles
	}
	ref, err := d.store.Attach(name, content)
	if err != nil {
		return Ref{}, err
	}
	d.items = append(d.items, Attachment{Ref: ref, Name: name, Content: content})
	return ref, nil
}

// Remove drops the attachment at index i and releases its preview.
func (d *Draft) Remove(i int) error {
	if i < 0 || i >= len(d.items) {
		return fmt.Errorf("%w: #%d of %d", ErrNoAttachment, i+1, len(d.items))
	}
	removed := d.items[i]
	d.items = slices.Delete(d.items, i, i+1)
	return d.store.Release(removed.Ref)
}

// Len returns the number of attachments.
func (d *Draft) Len() int {
	if d == nil {
		return 0
	}
	return len(d.items)
}

// Attachments returns a copy of the current attachments.
func (d *Draft) Attachments() []Attachment {
	if d == nil {
		return nil
	}
	return slices.Clone(d.items)
}

// Take hands every attachment to the caller, which becomes responsible for
// releasing the previews, and empties the draft.
func (d *Draft) Take() []Attachment {
	if d == nil {
		return nil
	}
	items := d.items
	d.items = nil
	return items
}

// Discard releases every preview and empties the draft.
func (d *Draft) Discard() error {
	var firstErr error
	for _, a := range d.Take() {
		if err := d.store.Release(a.Ref); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
