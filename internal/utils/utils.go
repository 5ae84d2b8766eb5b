package utils

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"net/url"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// GENERATEHASH RETURNS A SHORT, STABLE, FILENAME-SAFE HASH OF INPUT
func GenerateHash(input string) string {
	hash := md5.Sum([]byte(input))
	return hex.EncodeToString(hash[:])[:12]
}

// GENERATEID RETURNS A PREFIXED UUID WITH DASHES STRIPPED
func GenerateID(prefix string) string {
	id := uuid.New().String()
	return fmt.Sprintf("%s_%s", prefix, strings.ReplaceAll(id, "-", ""))
}

// FORMATDURATION RENDERS D IN THE COARSEST UNIT THAT APPLIES
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// RESOLVEURL TURNS A (POSSIBLY RELATIVE) URL INTO AN ABSOLUTE ONE AGAINST BASE
func ResolveURL(baseURL, relativeURL string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return relativeURL
	}

	if strings.HasPrefix(relativeURL, "http://") || strings.HasPrefix(relativeURL, "https://") {
		return relativeURL
	}

	if strings.HasPrefix(relativeURL, "//") {
		return base.Scheme + ":" + relativeURL
	}

	rel, err := url.Parse(relativeURL)
	if err != nil {
		return relativeURL
	}

	return base.ResolveReference(rel).String()
}

// STRIPIMAGESIZESUFFIX UNDOES COMMON WORDPRESS/WOOCOMMERCE THUMBNAIL
// RESOLUTION SUFFIXES (E.G. "-150x150" BEFORE THE EXTENSION) SO GALLERY
// EXTRACTORS CAN RECOVER THE FULL-SIZE IMAGE FROM A THUMBNAIL URL.
func StripImageSizeSuffix(imageURL string) string {
	ext := ""
	if idx := strings.LastIndex(imageURL, "."); idx != -1 {
		ext = imageURL[idx:]
		imageURL = imageURL[:idx]
	}
	if idx := strings.LastIndex(imageURL, "-"); idx != -1 {
		suffix := imageURL[idx+1:]
		if isDimensionSuffix(suffix) {
			imageURL = imageURL[:idx]
		}
	}
	return imageURL + ext
}

func isDimensionSuffix(s string) bool {
	parts := strings.Split(s, "x")
	if len(parts) != 2 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}

// NORMALIZEIMAGE DECODES SRC, FORCES IT TO RGB COLOR SPACE (SOURCE IMAGES MAY
// BE INDEXED/CMYK/PALETTED), AND RE-ENCODES AS JPEG AT THE GIVEN QUALITY.
func NormalizeImage(src []byte, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	rgb := imaging.Clone(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgb, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// GENERATETHUMBNAIL PRODUCES A MAX-DIMENSION JPEG THUMBNAIL FROM SRC.
func GenerateThumbnail(src []byte, maxDimension, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	thumb := imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
