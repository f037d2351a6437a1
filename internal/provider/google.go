package provider

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloo-solutions/briefly/internal/domain"
)

const (
	GoogleDriveBaseURL = "https://www.googleapis.com"

	googleFolderMimeType = "application/vnd.google-apps.folder"
	googleAppsPrefix     = "application/vnd.google-apps."
	googleListFields     = "nextPageToken, files(id, name, mimeType, size, version, modifiedTime, webViewLink)"
)

// GoogleDrive lists a user's Drive files through the v3 files API.
type GoogleDrive struct {
	client  *http.Client
	baseURL string
}

// NewGoogleDrive creates a lister. An empty baseURL uses GoogleDriveBaseURL.
func NewGoogleDrive(client *http.Client, baseURL string) *GoogleDrive {
	if baseURL == "" {
		baseURL = GoogleDriveBaseURL
	}
	return &GoogleDrive{client: defaultClient(client), baseURL: strings.TrimRight(baseURL, "/")}
}

type driveFile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mimeType"`
	Size         string    `json:"size"`
	Version      string    `json:"version"`
	ModifiedTime time.Time `json:"modifiedTime"`
	WebViewLink  string    `json:"webViewLink"`
}

type driveListResponse struct {
	NextPageToken string      `json:"nextPageToken"`
	Files         []driveFile `json:"files"`
}

// ListPage fetches one page of non-trashed files. The cursor is Drive's
// page token.
func (g *GoogleDrive) ListPage(ctx context.Context, accessToken, cursor string, pageSize int) (*domain.ListingPage, error) {
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("fields", googleListFields)
	q.Set("q", "trashed = false and mimeType != '"+googleFolderMimeType+"'")
	q.Set("orderBy", "modifiedTime")
	if cursor != "" {
		q.Set("pageToken", cursor)
	}

	var out driveListResponse
	if err := getJSON(ctx, g.client, g.baseURL+"/drive/v3/files?"+q.Encode(), accessToken, &out); err != nil {
		return nil, err
	}

	page := &domain.ListingPage{NextCursor: out.NextPageToken, Files: make([]domain.RemoteFile, 0, len(out.Files))}
	for _, f := range out.Files {
		if f.MimeType == googleFolderMimeType {
			continue
		}
		size, _ := strconv.ParseInt(f.Size, 10, 64)
		page.Files = append(page.Files, domain.RemoteFile{
			ExternalID:   f.ID,
			Name:         f.Name,
			MimeType:     exportedMimeType(f.MimeType),
			Size:         size,
			Revision:     f.Version,
			ModifiedTime: f.ModifiedTime,
			DownloadURL:  g.downloadURL(f),
			WebURL:       f.WebViewLink,
		})
	}
	return page, nil
}

// Native Docs files have no binary content and are exported as text.
func (g *GoogleDrive) downloadURL(f driveFile) string {
	id := url.PathEscape(f.ID)
	if strings.HasPrefix(f.MimeType, googleAppsPrefix) {
		return g.baseURL + "/drive/v3/files/" + id + "/export?mimeType=" + url.QueryEscape("text/plain")
	}
	return g.baseURL + "/drive/v3/files/" + id + "?alt=media"
}

func exportedMimeType(mimeType string) string {
	if strings.HasPrefix(mimeType, googleAppsPrefix) {
		return "text/plain"
	}
	return mimeType
}
