package gradio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mvdan/xurls"
)

const fileDataType = "gradio.FileData"

// FileRef помечает аргумент как файл: локальный путь или http(s) URL.
// Обычные строки никогда не считаются файлами.
type FileRef struct {
	Path string
}

func HandleFile(p string) FileRef { return FileRef{Path: p} }

// FileData — описание файла в протоколе Gradio 4+.
type FileData struct {
	Path     string   `json:"path"`
	URL      string   `json:"url,omitempty"`
	OrigName string   `json:"orig_name,omitempty"`
	MimeType string   `json:"mime_type,omitempty"`
	Meta     fileMeta `json:"meta"`
}

type fileMeta struct {
	Type string `json:"_type"`
}

// IsURL сообщает, является ли s целиком http(s) адресом.
func IsURL(s string) bool {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return false
	}
	return xurls.Strict.FindString(s) == s
}

// prepareArgs заменяет FileRef на описание файла; локальные файлы предварительно загружаются.
// legacy — формат Gradio 3.x ({"name", "is_file"}).
func (c *Client) prepareArgs(ctx context.Context, args []any, legacy bool) ([]any, error) {
	out := make([]any, len(args))
	var (
		local []string
		slots []int
	)
	for i, a := range args {
		ref, ok := a.(FileRef)
		if !ok {
			if p, isPtr := a.(*FileRef); isPtr && p != nil {
				ref, ok = *p, true
			}
		}
		if !ok {
			out[i] = a
			continue
		}
		if IsURL(ref.Path) {
			out[i] = fileArg(ref.Path, ref.Path, urlBase(ref.Path), legacy)
			continue
		}
		local = append(local, ref.Path)
		slots = append(slots, i)
	}
	if len(local) == 0 {
		return out, nil
	}

	uploaded, err := c.upload(ctx, local)
	if err != nil {
		return nil, err
	}
	if len(uploaded) != len(local) {
		return nil, fmt.Errorf("gradio: upload returned %d paths for %d files", len(uploaded), len(local))
	}
	for j, i := range slots {
		out[i] = fileArg(uploaded[j], "", filepath.Base(local[j]), legacy)
	}
	return out, nil
}

func fileArg(serverPath, fileURL, origName string, legacy bool) any {
	if legacy {
		return map[string]any{"name": serverPath, "is_file": true, "data": nil, "orig_name": origName}
	}
	return FileData{Path: serverPath, URL: fileURL, OrigName: origName, Meta: fileMeta{Type: fileDataType}}
}

// upload отправляет файлы одним multipart-запросом на /upload и возвращает пути на сервере.
func (c *Client) upload(ctx context.Context, paths []string) ([]string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range paths {
		if err := addFilePart(mw, p); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.src+"/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	var out []string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	c.logger.Debugw("uploaded", "files", paths, "remote", out)
	return out, nil
}

func addFilePart(mw *multipart.Writer, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("open %s: %w", p, err)
	}
	defer f.Close()

	part, err := mw.CreateFormFile("files", filepath.Base(p))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// resolveFiles скачивает файлы из выхода и заменяет их описания локальными путями.
func (c *Client) resolveFiles(ctx context.Context, v any) (any, error) {
	switch t := v.(type) {
	case []any:
		for i := range t {
			r, err := c.resolveFiles(ctx, t[i])
			if err != nil {
				return nil, err
			}
			t[i] = r
		}
		return t, nil
	case map[string]any:
		if remote, name, ok := c.fileLocation(t); ok {
			return c.download(ctx, remote, name)
		}
		for k, item := range t {
			r, err := c.resolveFiles(ctx, item)
			if err != nil {
				return nil, err
			}
			t[k] = r
		}
		return t, nil
	default:
		return v, nil
	}
}

// fileLocation распознаёт файл в выходе и возвращает адрес для скачивания и имя файла.
func (c *Client) fileLocation(m map[string]any) (string, string, bool) {
	var serverPath string
	if meta, ok := m["meta"].(map[string]any); ok && meta["_type"] == fileDataType {
		serverPath, _ = m["path"].(string)
	} else if isFile, _ := m["is_file"].(bool); isFile {
		serverPath, _ = m["name"].(string)
	} else {
		return "", "", false
	}

	remote, _ := m["url"].(string)
	if remote == "" {
		if serverPath == "" {
			return "", "", false
		}
		// # ? % в пути иначе ломают разбор URL
		remote = c.src + "/file=" + (&url.URL{Path: serverPath}).EscapedPath()
	}

	name, _ := m["orig_name"].(string)
	if name == "" {
		name = path.Base(filepath.ToSlash(serverPath))
	}
	if name == "" || name == "." || name == "/" {
		name = urlBase(remote)
	}
	return remote, name, true
}

func (c *Client) download(ctx context.Context, remote, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remote, nil)
	if err != nil {
		return "", err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", remote, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", fmt.Errorf("download %s: %w", remote, err)
	}

	dir := filepath.Join(c.downloadDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	local := filepath.Join(dir, filepath.Base(name))
	f, err := os.Create(local)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("download %s: %w", remote, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	c.logger.Debugw("downloaded", "url", remote, "path", local)
	return local, nil
}

func urlBase(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "file"
	}
	b := path.Base(u.Path)
	if b == "/" || b == "." {
		return "file"
	}
	return b
}
