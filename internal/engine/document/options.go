package document

import "github.com/google/uuid"

// loadChunkSize is the size of the owned segments created by ReadFrom.
const loadChunkSize = 64 * 1024

// Registry tracks live documents. A repository implements it so it can refuse
// to close sources that registered documents still reference.
type Registry interface {
	Register(d *Document)
	Unregister(d *Document)
}

// Option configures a Document during creation.
type Option func(*Document)

// WithID sets the document identifier instead of generating one.
func WithID(id uuid.UUID) Option {
	return func(d *Document) {
		d.id = id
	}
}

// WithVerify validates the segment structure after every mutation.
// A failed validation marks the document broken.
func WithVerify(enable bool) Option {
	return func(d *Document) {
		d.verify = enable
	}
}

// WithRegistry registers the document on creation and unregisters it on
// Dispose. Copies inherit the registry.
func WithRegistry(r Registry) Option {
	return func(d *Document) {
		d.registry = r
	}
}

// WithCoalesce controls whether inserts and single-byte writes extend an
// adjacent owned segment instead of linking a new one. Enabled by default.
func WithCoalesce(enable bool) Option {
	return func(d *Document) {
		d.coalesce = enable
	}
}
