package dom

import (
	"slices"
	"sync"

	"github.com/teonet-go/teoweb/pkg/protocol"
)

// Element is a read-only snapshot of one element.
type Element struct {
	ID      string
	Content string
	HTML    bool     // Content is markup rather than text
	Classes []string // Sorted
}

// HasClass reports whether the element carries class.
func (e Element) HasClass(class string) bool {
	_, found := slices.BinarySearch(e.Classes, class)
	return found
}

type element struct {
	content string
	html    bool
	classes map[string]struct{}
}

func (e *element) snapshot(id string) Element {
	classes := make([]string, 0, len(e.classes))
	for c := range e.classes {
		classes = append(classes, c)
	}
	slices.Sort(classes)
	return Element{ID: id, Content: e.content, HTML: e.html, Classes: classes}
}

// Observer receives the patches of one effective mutation or batch together
// with the document version they produced. It runs with the document
// locked and must not call back into it.
type Observer func(version uint64, patches []protocol.Patch)

// Document holds page elements by id. Safe for concurrent use.
type Document struct {
	mu        sync.Mutex
	elements  map[string]*element
	observers map[int]Observer
	nextObs   int
	version   uint64
}

// New creates an empty document.
func New() *Document {
	return &Document{
		elements:  make(map[string]*element),
		observers: make(map[int]Observer),
	}
}

// Observe registers fn for future patches and returns a function that
// removes it.
func (d *Document) Observe(fn Observer) (cancel func()) {
	d.mu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
	}
}

// Batch runs fn with exclusive access to the document and delivers all
// patches it produced as a single list.
func (d *Document) Batch(fn func(tx *Tx)) []protocol.Patch {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx := &Tx{doc: d}
	fn(tx)
	if len(tx.patches) == 0 {
		return nil
	}

	d.version++
	for _, obs := range d.sortedObservers() {
		obs(d.version, tx.patches)
	}
	return tx.patches
}

// sortedObservers returns observers in registration order.
func (d *Document) sortedObservers() []Observer {
	ids := make([]int, 0, len(d.observers))
	for id := range d.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Observer, len(ids))
	for i, id := range ids {
		out[i] = d.observers[id]
	}
	return out
}

// SetHTML replaces the inner HTML of element id.
func (d *Document) SetHTML(id, html string) []protocol.Patch {
	return d.Batch(func(tx *Tx) { tx.SetHTML(id, html) })
}

// SetText replaces the text content of element id.
func (d *Document) SetText(id, text string) []protocol.Patch {
	return d.Batch(func(tx *Tx) { tx.SetText(id, text) })
}

// AddClass adds a CSS class to element id.
func (d *Document) AddClass(id, class string) []protocol.Patch {
	return d.Batch(func(tx *Tx) { tx.AddClass(id, class) })
}

// RemoveClass removes a CSS class from element id.
func (d *Document) RemoveClass(id, class string) []protocol.Patch {
	return d.Batch(func(tx *Tx) { tx.RemoveClass(id, class) })
}

// Element returns a snapshot of element id.
func (d *Document) Element(id string) (Element, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.elements[id]
	if !ok {
		return Element{ID: id}, false
	}
	return e.snapshot(id), true
}

// Elements returns snapshots of all elements sorted by id.
func (d *Document) Elements() []Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sortedElements()
}

func (d *Document) sortedElements() []Element {
	out := make([]Element, 0, len(d.elements))
	for id, e := range d.elements {
		out = append(out, e.snapshot(id))
	}
	slices.SortFunc(out, func(a, b Element) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Snapshot returns all elements together with the version they reflect.
func (d *Document) Snapshot() ([]Element, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sortedElements(), d.version
}

// Version counts effective mutations.
func (d *Document) Version() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

// Tx mutates a locked document. Only valid inside Batch.
type Tx struct {
	doc     *Document
	patches []protocol.Patch
}

func (tx *Tx) get(id string) *element {
	e, ok := tx.doc.elements[id]
	if !ok {
		e = &element{classes: make(map[string]struct{})}
		tx.doc.elements[id] = e
	}
	return e
}

// SetHTML replaces the inner HTML of element id.
func (tx *Tx) SetHTML(id, html string) {
	e := tx.get(id)
	if e.html && e.content == html {
		return
	}
	e.content, e.html = html, true
	tx.patches = append(tx.patches, protocol.NewSetHTMLPatch(id, html))
}

// SetText replaces the text content of element id.
func (tx *Tx) SetText(id, text string) {
	e := tx.get(id)
	if !e.html && e.content == text {
		return
	}
	e.content, e.html = text, false
	tx.patches = append(tx.patches, protocol.NewSetTextPatch(id, text))
}

// AddClass adds a CSS class to element id.
func (tx *Tx) AddClass(id, class string) {
	e := tx.get(id)
	if _, ok := e.classes[class]; ok {
		return
	}
	e.classes[class] = struct{}{}
	tx.patches = append(tx.patches, protocol.NewAddClassPatch(id, class))
}

// RemoveClass removes a CSS class from element id.
func (tx *Tx) RemoveClass(id, class string) {
	e := tx.get(id)
	if _, ok := e.classes[class]; !ok {
		return
	}
	delete(e.classes, class)
	tx.patches = append(tx.patches, protocol.NewRemoveClassPatch(id, class))
}
