package domain

import "time"

// Provider is a cloud storage service that can be listed for delta sync.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
)

// ParseProvider validates a raw provider name.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderGoogle, ProviderMicrosoft:
		return Provider(s), nil
	}
	return "", ErrInvalidProvider
}

// Source is the FileRecord source for files listed by this provider.
func (p Provider) Source() Source {
	return Source(p)
}

// SyncConnection holds per-(owner, provider) sync state. An empty Cursor means
// the next listing starts from the beginning.
type SyncConnection struct {
	OwnerID       string
	Provider      Provider
	Cursor        string
	LastCheckedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// PassStartedAt is set while a listing that began from an empty cursor
	// is spread over several runs. PassSeen holds the external ids it listed.
	PassStartedAt *time.Time
	PassSeen      []string
}

// RemoteFile is one entry of a provider listing.
type RemoteFile struct {
	ExternalID   string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	Revision     string    `json:"revision,omitempty"`
	ModifiedTime time.Time `json:"modifiedTime"`
	DownloadURL  string    `json:"-"`
	WebURL       string    `json:"webUrl,omitempty"`
}

// ListingPage is one page returned by a provider. An empty NextCursor means
// the listing is exhausted.
type ListingPage struct {
	Files      []RemoteFile
	NextCursor string
}

// DeltaResult holds the four disjoint classification sets.
type DeltaResult struct {
	New       []RemoteFile
	Updated   []RemoteFile
	Unchanged []RemoteFile
	Deleted   []*FileRecord
}

// Total is the number of classified entries.
func (d *DeltaResult) Total() int {
	return len(d.New) + len(d.Updated) + len(d.Unchanged) + len(d.Deleted)
}

// PageError flags a listing page that could not be fetched.
type PageError struct {
	Page  int    `json:"page"`
	Error string `json:"error"`
}
