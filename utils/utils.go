package utils

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	emoji "github.com/fzxiao233/Go-Emoji-Utils"
	"github.com/valyala/bytebufferpool"
)

var bufPool bytebufferpool.Pool

func HttpGet(client *http.Client, url string, header map[string]string) ([]byte, error) {
	buf := bufPool.Get()
	defer bufPool.Put(buf)
	err := HttpGetBuffer(context.Background(), client, url, header, buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(buf.B))
	copy(out, buf.B)
	return out, nil
}

func HttpGetBuffer(ctx context.Context, client *http.Client, url string, header map[string]string, buf *bytebufferpool.ByteBuffer) error {
	if client == nil {
		client = &http.Client{}
	}
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/75.0.3770.142 Safari/537.36")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if res != nil {
		defer res.Body.Close()
	}
	if err != nil || res == nil {
		return fmt.Errorf("HttpGet error %w", err)
	}
	if res.StatusCode != 200 && res.StatusCode != 206 {
		return fmt.Errorf("HttpGet status error %d", res.StatusCode)
	}
	buf.Reset()
	_, err = io.Copy(buf, res.Body)
	return err
}

func IsFileExist(aFilepath string) bool {
	if _, err := os.Stat(aFilepath); err == nil {
		return true
	}
	return false
}

func MakeDir(dirPath string) (string, error) {
	err := os.MkdirAll(dirPath, 0775)
	if err != nil {
		return "", err
	}
	return dirPath, nil
}

var illegalChars = []string{"|", "/", "\\", ":", "?", "*", "\"", "<", ">"}
var spaceRe = regexp.MustCompile(`\s+`)

// MaxTitleLen bounds sanitized titles so derived filenames stay within
// filesystem name limits even after an extension is appended.
const MaxTitleLen = 120

// SanitizeTitle turns a media title into a safe filename fragment.
func SanitizeTitle(title string) string {
	title = emoji.RemoveAll(title)
	for _, char := range illegalChars {
		title = strings.ReplaceAll(title, char, "#")
	}
	title = spaceRe.ReplaceAllString(title, " ")
	title = strings.TrimSpace(title)
	runes := []rune(title)
	if len(runes) > MaxTitleLen {
		title = string(runes[:MaxTitleLen])
	}
	if title == "" {
		title = "untitled"
	}
	return title
}

// UniqueDir appends " (1)", " (2)", ... until the directory name is unused.
func UniqueDir(basePath string) string {
	if !IsFileExist(basePath) {
		return basePath
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)", basePath, i)
		if !IsFileExist(candidate) {
			return candidate
		}
	}
}

// ReplaceExt swaps the filename extension for the one the tool reported.
func ReplaceExt(aFilepath string, ext string) string {
	old := filepath.Ext(aFilepath)
	return strings.TrimSuffix(aFilepath, old) + "." + strings.TrimPrefix(ext, ".")
}

func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
