package handlers

import (
	"net/http"

	"github.com/meowith/meowith/pkg/metadata/cassandra"
	"github.com/meowith/meowith/pkg/permission"
)

// DirectoryHandler serves the node's public directory endpoints.
type DirectoryHandler struct {
	Metadata *cassandra.Store
}

func NewDirectoryHandler(meta *cassandra.Store) *DirectoryHandler {
	return &DirectoryHandler{Metadata: meta}
}

// Create handles POST /api/directory/create/{app}/{bucket}/*.
func (h *DirectoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	_, bucketID, fullPath, ok := pathParams(w, r)
	if !ok {
		return
	}
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	if !claims.Allowance(bucketID).Has(permission.PermCreateDirectory) {
		Unauthorized(w, "missing create-directory permission")
		return
	}

	parent, name := splitEntryPath(fullPath)
	if _, err := h.Metadata.GetDirectory(bucketID, parent, name); err == nil {
		WriteProblem(w, http.StatusBadRequest, "Bad Request", "directory already exists")
		return
	}
	dir := &cassandra.Directory{BucketID: bucketID, Parent: parent, Name: name}
	if err := h.Metadata.CreateDirectory(dir); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, map[string]any{"id": dir.ID})
}

type deleteDirectoryRequest struct {
	Recursive bool `json:"recursive"`
}

// Delete handles DELETE /api/directory/delete/{app}/{bucket}/*.
func (h *DirectoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	_, bucketID, fullPath, ok := pathParams(w, r)
	if !ok {
		return
	}
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	if !claims.Allowance(bucketID).Has(permission.PermDeleteDirectory) {
		Unauthorized(w, "missing delete-directory permission")
		return
	}

	var req deleteDirectoryRequest
	_ = decodeJSONBody(w, r, &req) // a missing/empty body defaults to non-recursive

	parent, name := splitEntryPath(fullPath)
	if !req.Recursive {
		entries, err := h.Metadata.ListDirectories(bucketID, joinPath(parent, name))
		if err != nil {
			WriteError(w, err)
			return
		}
		files, err := h.Metadata.ListFiles(bucketID, cassandra.RootDirectory)
		if err != nil {
			WriteError(w, err)
			return
		}
		if len(entries) > 0 || len(files) > 0 {
			WriteProblem(w, http.StatusBadRequest, "Bad Request", "directory is not empty")
			return
		}
	}

	if err := h.Metadata.DeleteDirectory(bucketID, parent, name); err != nil {
		WriteError(w, err)
		return
	}
	WriteNoContent(w)
}

type renameDirectoryRequest struct {
	To string `json:"to"`
}

// Rename handles POST /api/directory/rename/{app}/{bucket}/*.
func (h *DirectoryHandler) Rename(w http.ResponseWriter, r *http.Request) {
	_, bucketID, fullPath, ok := pathParams(w, r)
	if !ok {
		return
	}
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	if !claims.Allowance(bucketID).Has(permission.PermRenameDirectory) {
		Unauthorized(w, "missing rename-directory permission")
		return
	}

	var req renameDirectoryRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	parent, name := splitEntryPath(fullPath)
	dir, err := h.Metadata.GetDirectory(bucketID, parent, name)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := h.Metadata.DeleteDirectory(bucketID, parent, name); err != nil {
		WriteError(w, err)
		return
	}
	newParent, newName := splitEntryPath(req.To)
	dir.Parent, dir.Name = newParent, newName
	if err := h.Metadata.CreateDirectory(dir); err != nil {
		WriteError(w, err)
		return
	}
	WriteNoContent(w)
}

// List handles GET /api/directory/list/{app}/{bucket}/*.
func (h *DirectoryHandler) List(w http.ResponseWriter, r *http.Request) {
	_, bucketID, fullPath, ok := pathParams(w, r)
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

	entries, err := h.Metadata.ListDirectories(bucketID, fullPath)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, entries)
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
