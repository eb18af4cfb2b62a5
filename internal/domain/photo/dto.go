package photo

// PresignRequest asks for a scoped upload credential
type PresignRequest struct {
	AlbumID     string `json:"album_id" validate:"required,uuid"`
	FileName    string `json:"file_name" validate:"omitempty,max=255"`
	ContentType string `json:"content_type" validate:"required,imagemime"`
	SizeBytes   int64  `json:"size_bytes" validate:"omitempty,gt=0"`
}

// PresignResponse carries the derived key and the upload URL
type PresignResponse struct {
	KeyOriginal string `json:"key_original"`
	UploadURL   string `json:"upload_url"`
}

// ConfirmRequest records a completed direct-to-storage upload
type ConfirmRequest struct {
	AlbumID     string  `json:"album_id" validate:"required,uuid"`
	KeyOriginal string  `json:"key_original" validate:"required,max=512"`
	MimeType    *string `json:"mime_type" validate:"omitempty,max=100"`
	Width       *int    `json:"width" validate:"omitempty,gt=0"`
	Height      *int    `json:"height" validate:"omitempty,gt=0"`
	SizeBytes   *int64  `json:"size_bytes" validate:"omitempty,gt=0"`
	Checksum    *string `json:"checksum" validate:"omitempty,max=128"`
	Caption     *string `json:"caption" validate:"omitempty,max=500"`
}

// Metadata is the client-supplied descriptive metadata recorded at
// confirm time.
type Metadata struct {
	MimeType  *string
	Width     *int
	Height    *int
	SizeBytes *int64
	Checksum  *string
	Caption   *string
}

func (r *ConfirmRequest) metadata() Metadata {
	return Metadata{
		MimeType:  r.MimeType,
		Width:     r.Width,
		Height:    r.Height,
		SizeBytes: r.SizeBytes,
		Checksum:  r.Checksum,
		Caption:   r.Caption,
	}
}
