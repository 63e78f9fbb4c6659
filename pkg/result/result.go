// Package result defines the per-item outcome shape shared between the
// pipelines, the progress store, and the job executor's callback payload.
package result

// MediaType discriminates the two Item Result shapes. Go favors one
// discriminated struct with nullable fields over two incompatible wire
// shapes here, since the callback payload needs a single flat JSON type.
type MediaType string

const (
	MediaTypeVideo MediaType = "VIDEO"
	MediaTypeImage MediaType = "IMAGE"
)

// ItemResult is the outcome of processing one media item. VIDEO results
// populate MasterPlaylistURL/ThumbnailURL; IMAGE results populate
// OriginalURL/ImageURL/BlurredThumbnailURL. Either set's unused fields
// stay empty and are omitted from JSON.
type ItemResult struct {
	MediaID      string    `json:"mediaId"`
	OriginalName string    `json:"originalName"`
	Filename     string    `json:"filename"`
	MediaType    MediaType `json:"mediaType"`
	Status       string    `json:"status"`

	MasterPlaylistURL string `json:"masterPlaylistUrl,omitempty"`
	ThumbnailURL      string `json:"thumbnailUrl,omitempty"`

	OriginalURL         string `json:"originalUrl,omitempty"`
	ImageURL            string `json:"imageUrl,omitempty"`
	BlurredThumbnailURL string `json:"blurredThumbnailUrl,omitempty"`
}

// NewVideoResult builds a VIDEO Item Result. Either URL may be left empty
// if its derivation stage failed non-fatally.
func NewVideoResult(mediaID, originalName, filename, masterPlaylistURL, thumbnailURL string) ItemResult {
	return ItemResult{
		MediaID:           mediaID,
		OriginalName:      originalName,
		Filename:          filename,
		MediaType:         MediaTypeVideo,
		Status:            "success",
		MasterPlaylistURL: masterPlaylistURL,
		ThumbnailURL:      thumbnailURL,
	}
}

// NewImageResult builds an IMAGE Item Result. BlurredThumbnailURL may be
// empty if the blur stage failed non-fatally.
func NewImageResult(mediaID, originalName, filename, originalURL, imageURL, blurredThumbnailURL string) ItemResult {
	return ItemResult{
		MediaID:             mediaID,
		OriginalName:        originalName,
		Filename:            filename,
		MediaType:           MediaTypeImage,
		Status:              "success",
		OriginalURL:         originalURL,
		ImageURL:            imageURL,
		BlurredThumbnailURL: blurredThumbnailURL,
	}
}
