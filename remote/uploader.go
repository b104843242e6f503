package remote

import (
	"bytes"
	"context"
	"strings"

	"github.com/disintegration/imaging"

	"bitbucket.org/mmdatafocus/pos_sync_core/utils"
)

const maxReceiptImageWidth = 1600

// Uploader pushes receipt blobs to cloud storage and returns a publicly
// resolvable URL. Upload failures never block the primary record write;
// the caller attaches a null URL and continues.
type Uploader struct{}

func NewUploader() *Uploader { return &Uploader{} }

// Upload stores the blob and returns its public URL. Images are
// downscaled and re-encoded first so a full-resolution phone photo does
// not burn the terminal's uplink.
func (u *Uploader) Upload(ctx context.Context, name, mime string, data []byte) (string, error) {
	if isImageMime(mime) {
		if compressed, err := compressImage(data); err == nil {
			data = compressed
			mime = "image/jpeg"
			name = replaceExt(name, ".jpg")
		}
		// On decode failure the original bytes are uploaded as-is.
	}

	objectKey := utils.ReceiptObjectKey(name)
	if err := utils.UploadBytesToGCS(ctx, objectKey, data, mime); err != nil {
		return "", err
	}
	return utils.BuildObjectAccessURL(objectKey), nil
}

func isImageMime(mime string) bool {
	return mime == "image/jpeg" || mime == "image/png"
}

func compressImage(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	if img.Bounds().Dx() > maxReceiptImageWidth {
		img = imaging.Resize(img, maxReceiptImageWidth, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func replaceExt(name, ext string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i] + ext
	}
	return name + ext
}
