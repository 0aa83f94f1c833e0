package simplegrid

import (
	"mime"
	"path/filepath"
	"strings"
)

// Extensions registered on top of the platform table, which is sparse on
// minimal images.
var extraMimeTypes = map[string]string{
	".txt":  "text/plain",
	".csv":  "text/csv",
	".md":   "text/markdown",
	".zip":  "application/zip",
	".gz":   "application/gzip",
	".mp4":  "video/mp4",
	".mp3":  "audio/mpeg",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

func init() {
	for ext, typ := range extraMimeTypes {
		if mime.TypeByExtension(ext) == "" {
			_ = mime.AddExtensionType(ext, typ)
		}
	}
}

// DetectContentType resolves the content type of filename from its
// extension. It returns "" when the extension is unknown.
func DetectContentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return ""
	}
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		return ""
	}
	// Drop parameters such as "; charset=utf-8".
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		return mediaType
	}
	return contentType
}
