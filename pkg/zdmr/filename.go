package zdmr

import (
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ResolveFilename determines the destination filename for a download
// from its Content-Disposition header and URL path, in the teacher's
// parseFileName style (pkg/warplib/misc.go) extended to handle RFC 5987
// encoded filenames (`filename*=UTF-8''...`) ahead of the plain
// `filename=` parameter, per §4.5.
func ResolveFilename(rawURL, contentDisposition string) string {
	name := filenameFromContentDisposition(contentDisposition)
	if name == "" {
		name = filenameFromURL(rawURL)
	}
	return SanitizeFilename(name)
}

func filenameFromContentDisposition(cd string) string {
	if cd == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}
	if star, ok := params["filename*"]; ok {
		if name := decodeExtValue(star); name != "" {
			return name
		}
	}
	return params["filename"]
}

// decodeExtValue decodes an RFC 5987 ext-value of the form
// charset'lang'value. Only UTF-8 is supported; anything else is
// rejected rather than mis-decoded.
func decodeExtValue(v string) string {
	parts := strings.SplitN(v, "'", 3)
	if len(parts) != 3 {
		return ""
	}
	charset, encoded := strings.ToLower(parts[0]), parts[2]
	if charset != "utf-8" && charset != "" {
		return ""
	}
	decoded, err := url.QueryUnescape(encoded)
	if err != nil {
		return ""
	}
	return decoded
}

func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "download"
	}
	parts := strings.Split(u.Path, "/")
	name := parts[len(parts)-1]
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	return name
}

// SanitizeFilename strips characters invalid on Windows/Unix filesystems
// and rejects Windows reserved device names, verbatim in spirit from the
// teacher's SanitizeFilename (pkg/warplib/misc.go).
func SanitizeFilename(name string) string {
	if name == "" {
		return "download"
	}

	invalidChars := []string{"<", ">", ":", "\"", "/", "\\", "|", "?", "*", ";"}
	for _, c := range invalidChars {
		name = strings.ReplaceAll(name, c, "_")
	}

	var b strings.Builder
	for _, r := range name {
		if r >= 32 {
			b.WriteRune(r)
		}
	}
	name = b.String()

	base, ext := name, ""
	if idx := strings.LastIndex(name, "."); idx > 0 {
		base, ext = name[:idx], name[idx:]
	}
	reserved := []string{
		"CON", "PRN", "AUX", "NUL",
		"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
		"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9",
	}
	for _, r := range reserved {
		if strings.EqualFold(base, r) {
			base = "_" + base
			break
		}
	}
	name = strings.Trim(base+ext, " .")
	if name == "" {
		name = "download"
	}
	return name
}

// ResolveCollision appends " (n)" before the extension until dir/name
// does not already exist, per §4.5's no-clobber rule. It never inspects
// in-flight downloads' planned paths, only the filesystem, so it must be
// called while holding whatever lock serializes destination-path
// assignment in the caller.
func ResolveCollision(dir, name string) (string, error) {
	base, ext := name, ""
	if idx := strings.LastIndex(name, "."); idx > 0 {
		base, ext = name[:idx], name[idx:]
	}
	candidate := name
	for n := 1; ; n++ {
		path := filepath.Join(dir, candidate)
		_, err := os.Stat(path)
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", NewError(CodeUnknown, "stat destination path", err)
		}
		candidate = base + " (" + strconv.Itoa(n) + ")" + ext
	}
}
