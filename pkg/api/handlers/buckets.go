package handlers

import (
	"net/http"

	"github.com/meowith/meowith/pkg/metadata/cassandra"
	"github.com/meowith/meowith/pkg/permission"
)

// BucketHandler serves the node's public bucket-level listing endpoints:
// a flat view of a bucket's files or directories under a given path, and
// a stat lookup that resolves either a file or a directory.
type BucketHandler struct {
	Metadata *cassandra.Store
}

func NewBucketHandler(meta *cassandra.Store) *BucketHandler {
	return &BucketHandler{Metadata: meta}
}

// ListFiles handles GET /api/bucket/list/files/{app}/{bucket}.
func (h *BucketHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	_, bucketID, ok := appBucketParams(w, r)
	if !ok {
		return
	}
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	if !claims.Allowance(bucketID).Has(permission.PermListDirectory) {
		Unauthorized(w, "missing list-directory permission")
		return
	}

	files, err := h.Metadata.ListFiles(bucketID, cassandra.RootDirectory)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, files)
}

// ListDirectories handles GET /api/bucket/list/directories/{app}/{bucket}.
func (h *BucketHandler) ListDirectories(w http.ResponseWriter, r *http.Request) {
	_, bucketID, ok := appBucketParams(w, r)
	if !ok {
		return
	}
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	if !claims.Allowance(bucketID).Has(permission.PermListDirectory) {
		Unauthorized(w, "missing list-directory permission")
		return
	}

	dirs, err := h.Metadata.ListDirectories(bucketID, "")
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, dirs)
}

type statResponse struct {
	Kind      string `json:"kind"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Size      int64  `json:"size,omitempty"`
	Directory string `json:"directory,omitempty"`
}

// Stat handles GET /api/bucket/stat/{app}/{bucket}/*, resolving path to
// either a file or a directory; a file takes precedence when both a file
// and a directory share the leaf name within the same parent.
func (h *BucketHandler) Stat(w http.ResponseWriter, r *http.Request) {
	_, bucketID, fullPath, ok := pathParams(w, r)
	if !ok {
		return
	}
	if _, ok := requireClaims(w, r); !ok {
		return
	}
	if fullPath == "" {
		WriteJSONOK(w, statResponse{Kind: "directory", ID: cassandra.RootDirectory.String(), Name: ""})
		return
	}

	dirPath, name := splitEntryPath(fullPath)
	directory, err := (&FileHandler{Metadata: h.Metadata}).resolveDirectory(bucketID, dirPath)
	if err != nil {
		WriteError(w, err)
		return
	}

	if file, err := h.Metadata.GetFile(bucketID, directory, name); err == nil {
		WriteJSONOK(w, statResponse{Kind: "file", ID: file.ID.String(), Name: file.Name, Size: file.Size, Directory: directory.String()})
		return
	}

	if dir, err := h.Metadata.GetDirectory(bucketID, dirPath, name); err == nil {
		WriteJSONOK(w, statResponse{Kind: "directory", ID: dir.ID.String(), Name: dir.Name})
		return
	}

	NotFound(w, "no such file or directory")
}
