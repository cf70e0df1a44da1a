package handler

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
)

// StaticHandler はエクスポート済みSPAのファイルを配信する。
// /foo へのリクエストは foo、foo.html、foo/index.html の順に探す。
type StaticHandler struct {
	files       fs.FS
	landingPath string
}

// NewStaticHandler はStaticHandlerを生成する。
// "/"へのリクエストはlandingPathへリダイレクトする。
func NewStaticHandler(files fs.FS, landingPath string) *StaticHandler {
	return &StaticHandler{
		files:       files,
		landingPath: landingPath,
	}
}

// ServeHTTP はhttp.Handlerを実装する。
func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	p := path.Clean("/" + r.URL.Path)
	if p == "/" {
		http.Redirect(w, r, h.landingPath, http.StatusTemporaryRedirect)
		return
	}

	name := strings.TrimPrefix(p, "/")
	for _, candidate := range []string{name, name + ".html", path.Join(name, "index.html")} {
		if h.serveFile(w, r, candidate) {
			return
		}
	}
	http.NotFound(w, r)
}

// serveFile はnameが通常ファイルとして存在すれば配信してtrueを返す。
func (h *StaticHandler) serveFile(w http.ResponseWriter, r *http.Request, name string) bool {
	if !fs.ValidPath(name) {
		return false
	}
	f, err := h.files.Open(name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.WarnContext(r.Context(), "failed to open static file",
				slog.String("name", name),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return false
	}

	content, ok := f.(io.ReadSeeker)
	if !ok {
		return false
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), content)
	return true
}
