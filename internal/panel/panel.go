package panel

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
)

//go:embed web/*
var content embed.FS

// indexFile is served for "/" and for any path that is not an asset.
const indexFile = "index.html"

// Handler returns an http.Handler serving the dashboard.
//
// Parameters:
//   - dir: Optional directory to serve instead of the embedded assets.
//     Ignored when it does not exist.
//
// Panics if the embedded assets are missing, which is a build error.
func Handler(dir string) http.Handler {
	assets := assetFS(dir)
	fileServer := http.FileServer(http.FS(assets))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		name := path.Clean(r.URL.Path)
		if name == "/" || name == "." {
			fileServer.ServeHTTP(w, r)
			return
		}

		if _, err := fs.Stat(assets, name[1:]); err != nil {
			// Unknown paths render the dashboard.
			http.ServeFileFS(w, r, assets, indexFile)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

func assetFS(dir string) fs.FS {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir)
		}
	}
	sub, err := fs.Sub(content, "web")
	if err != nil {
		panic(fmt.Sprintf("panel: failed to load embedded web assets: %v", err))
	}
	return sub
}
