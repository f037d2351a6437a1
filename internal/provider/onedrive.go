package provider

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloo-solutions/briefly/internal/domain"
)

const GraphBaseURL = "https://graph.microsoft.com"

// OneDrive lists the root of a user's drive through Microsoft Graph.
type OneDrive struct {
	client  *http.Client
	baseURL string
}

// NewOneDrive creates a lister. An empty baseURL uses GraphBaseURL.
func NewOneDrive(client *http.Client, baseURL string) *OneDrive {
	if baseURL == "" {
		baseURL = GraphBaseURL
	}
	return &OneDrive{client: defaultClient(client), baseURL: strings.TrimRight(baseURL, "/")}
}

type graphItem struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Size                 int64     `json:"size"`
	CTag                 string    `json:"cTag"`
	ETag                 string    `json:"eTag"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
	WebURL               string    `json:"webUrl"`
	File                 *struct {
		MimeType string `json:"mimeType"`
	} `json:"file"`
}

type graphListResponse struct {
	NextLink string      `json:"@odata.nextLink"`
	Value    []graphItem `json:"value"`
}

// ListPage fetches one page of drive items, skipping folders. The cursor is
// the @odata.nextLink returned by the previous page.
func (o *OneDrive) ListPage(ctx context.Context, accessToken, cursor string, pageSize int) (*domain.ListingPage, error) {
	target := cursor
	if target == "" {
		q := url.Values{}
		q.Set("$top", strconv.Itoa(pageSize))
		q.Set("$select", "id,name,size,cTag,eTag,lastModifiedDateTime,webUrl,file")
		target = o.baseURL + "/v1.0/me/drive/root/children?" + q.Encode()
	} else if !strings.HasPrefix(cursor, o.baseURL+"/") {
		// the token is only ever sent to the Graph host
		return nil, domain.NewIngestError(domain.KindSyncProvider, errors.New("cursor does not point at the graph api"), false)
	}

	var out graphListResponse
	if err := getJSON(ctx, o.client, target, accessToken, &out); err != nil {
		return nil, err
	}

	page := &domain.ListingPage{NextCursor: out.NextLink, Files: make([]domain.RemoteFile, 0, len(out.Value))}
	for _, item := range out.Value {
		if item.File == nil {
			continue
		}
		revision := item.CTag
		if revision == "" {
			revision = item.ETag
		}
		page.Files = append(page.Files, domain.RemoteFile{
			ExternalID:   item.ID,
			Name:         item.Name,
			MimeType:     item.File.MimeType,
			Size:         item.Size,
			Revision:     revision,
			ModifiedTime: item.LastModifiedDateTime,
			DownloadURL:  o.baseURL + "/v1.0/me/drive/items/" + url.PathEscape(item.ID) + "/content",
			WebURL:       item.WebURL,
		})
	}
	return page, nil
}
