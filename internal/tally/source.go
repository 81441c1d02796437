package tally

import (
	"fmt"
	"sync"
)

// ItemType tags the variant carried by an Item
type ItemType int

const (
	// ItemOther is anything that does not classify as an event; it is skipped.
	ItemOther ItemType = iota
	// ItemEvent carries a kind to be counted.
	ItemEvent
	// ItemFailure carries a transport error that ends the window.
	ItemFailure
)

// Item is a single element yielded by a Source
type Item struct {
	Type ItemType
	Kind uint64
	Err  error
	Note string // free-form description for skipped items
}

// Event returns an event item for kind
func Event(kind uint64) Item {
	return Item{Type: ItemEvent, Kind: kind}
}

// Failure returns a failure item wrapping err
func Failure(err error) Item {
	return Item{Type: ItemFailure, Err: err}
}

// Other returns a skippable item described by note
func Other(note string) Item {
	return Item{Type: ItemOther, Note: note}
}

func (i Item) String() string {
	switch i.Type {
	case ItemEvent:
		return fmt.Sprintf("event(kind=%d)", i.Kind)
	case ItemFailure:
		return fmt.Sprintf("failure(%v)", i.Err)
	default:
		if i.Note == "" {
			return "other"
		}
		return "other(" + i.Note + ")"
	}
}

// Source yields items until its channel is closed.
type Source interface {
	Items() <-chan Item
}

// ChanSource adapts a plain channel to Source
type ChanSource <-chan Item

// Items returns the underlying channel
func (s ChanSource) Items() <-chan Item {
	return s
}

// SliceSource returns a Source that yields items in order and then closes.
func SliceSource(items ...Item) Source {
	ch := make(chan Item, len(items))
	for _, it := range items {
		ch <- it
	}
	close(ch)
	return ChanSource(ch)
}

// Merge fans several sources into one. The merged source closes once every
// input has closed.
func Merge(srcs ...Source) Source {
	out := make(chan Item)
	var wg sync.WaitGroup

	wg.Add(len(srcs))
	for _, src := range srcs {
		go func(in <-chan Item) {
			defer wg.Done()
			for it := range in {
				out <- it
			}
		}(src.Items())
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return ChanSource(out)
}
