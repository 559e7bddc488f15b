package shelf

import (
	"context"
	"time"
)

// RemoteFile is one entry in a remote folder listing.
type RemoteFile struct {
	ID          string
	Name        string
	ChangeToken string // changes whenever the content changes
	Size        int64
	ModifiedAt  time.Time
}

// FilePage is one page of a folder listing. NextPageToken is empty on the
// last page.
type FilePage struct {
	Files         []RemoteFile
	NextPageToken string
}

// Token is a credential with an expiry. A zero Expiry never expires.
type Token struct {
	AccessKey    string
	Secret       string
	SessionToken string
	Expiry       time.Time
}

// Expired reports whether the token is unusable at now, treating anything
// inside the skew window as already expired.
func (t Token) Expired(now time.Time, skew time.Duration) bool {
	if t.AccessKey == "" {
		return true
	}
	if t.Expiry.IsZero() {
		return false
	}
	return !now.Add(skew).Before(t.Expiry)
}

// TokenSource produces fresh tokens. It returns ErrCancelled when an
// interactive authorization was dismissed.
type TokenSource interface {
	Token(ctx context.Context) (Token, error)
}

// RemoteService is the cloud folder API the remote adapter talks to.
// Folder and file identifiers are opaque to the adapter.
type RemoteService interface {
	// Authorize installs the credential used by subsequent calls.
	Authorize(tok Token)

	// FindFolder looks up a child folder by name. parentID "" is the root.
	FindFolder(ctx context.Context, parentID, name string) (id string, found bool, err error)

	// CreateFolder creates a child folder and returns its id.
	CreateFolder(ctx context.Context, parentID, name string) (string, error)

	// ListFiles returns one page of the files directly inside folderID.
	ListFiles(ctx context.Context, folderID, pageToken string) (*FilePage, error)

	// FindFile looks up a file by name. Returns ErrNotFound if absent.
	FindFile(ctx context.Context, folderID, name string) (*RemoteFile, error)

	// GetFile downloads a file's content.
	GetFile(ctx context.Context, fileID string) ([]byte, error)

	// PutFile creates or replaces the named file in folderID.
	PutFile(ctx context.Context, folderID, name string, content []byte) (*RemoteFile, error)

	// DeleteFile removes a file.
	DeleteFile(ctx context.Context, fileID string) error
}
